package cim

import "fmt"

const (
	// RootSuffix terminates every document root property name.
	RootSuffix = "_MarketDocument"

	// SchemeGS1 is the coding scheme for GLN and GSRN identifiers.
	SchemeGS1 = "A10"

	// BusinessSectorElectricity is the fixed business sector code.
	BusinessSectorElectricity = "23"

	ElementActivityRecord = "MktActivityRecord"
	ElementSeries         = "Series"
)

// Market role codes.
const (
	RoleBalanceSupplier        = "DDQ"
	RoleMeteringPointOperator  = "DDZ"
	RoleMeteredDataResponsible = "MDR"
	RoleGridAccessProvider     = "DDM"
	RoleSystemOperator         = "EZ"
)

// Process type codes carried in process.processType.
const (
	ProcessTypeChangeOfSupplier = "E03"
	ProcessTypeEndOfSupply      = "E20"
	ProcessTypeMeteredData      = "E23"
	ProcessTypeHistoricalData   = "E30"
	ProcessTypeMasterData       = "E34"
	ProcessTypeMoveIn           = "E65"
	ProcessTypeMoveOut          = "E66"
	ProcessTypeChargeLinks      = "D17"
	ProcessTypePriceList        = "D18"
)

// BusinessProcess identifies a market business process.
type BusinessProcess string

const (
	ProcessSupplierSwitch     BusinessProcess = "BRS-001"
	ProcessEndOfSupply        BusinessProcess = "BRS-002"
	ProcessMasterData         BusinessProcess = "BRS-006"
	ProcessMoveIn             BusinessProcess = "BRS-009"
	ProcessMoveOut            BusinessProcess = "BRS-010"
	ProcessMeteredData        BusinessProcess = "BRS-021"
	ProcessMeteredDataRequest BusinessProcess = "BRS-024"
	ProcessPriceList          BusinessProcess = "BRS-031"
	ProcessChargeLinks        BusinessProcess = "BRS-037"
)

var businessProcesses = []BusinessProcess{
	ProcessSupplierSwitch,
	ProcessEndOfSupply,
	ProcessMasterData,
	ProcessMoveIn,
	ProcessMoveOut,
	ProcessMeteredData,
	ProcessMeteredDataRequest,
	ProcessPriceList,
	ProcessChargeLinks,
}

// BusinessProcesses lists every known business process.
func BusinessProcesses() []BusinessProcess {
	out := make([]BusinessProcess, len(businessProcesses))
	copy(out, businessProcesses)
	return out
}

// Valid reports whether b is a known business process.
func (b BusinessProcess) Valid() bool {
	for _, known := range businessProcesses {
		if b == known {
			return true
		}
	}
	return false
}

// ParseBusinessProcess validates a business process identifier.
func ParseBusinessProcess(value string) (BusinessProcess, error) {
	bp := BusinessProcess(value)
	if !bp.Valid() {
		return "", &ValidationError{Field: "businessProcess", Value: value}
	}
	return bp, nil
}

// DocumentType identifies an RSM document type.
type DocumentType string

const (
	DocumentRequestChangeOfSupplier   DocumentType = "RSM-001"
	DocumentNotifyEndOfSupply         DocumentType = "RSM-004"
	DocumentRequestEndOfSupply        DocumentType = "RSM-005"
	DocumentResponse                  DocumentType = "RSM-009"
	DocumentMeteredData               DocumentType = "RSM-012"
	DocumentRequestMeteredData        DocumentType = "RSM-015"
	DocumentAccountingPointMasterData DocumentType = "RSM-022"
	DocumentChargeLinks               DocumentType = "RSM-031"
	DocumentPriceList                 DocumentType = "RSM-034"
)

// DocumentKind describes how one document is laid out on the wire.
type DocumentKind struct {
	Root     string
	Element  string
	TypeCode string
	Document DocumentType
}

// RootName returns the full root property name.
func (k DocumentKind) RootName() string {
	return k.Root + RootSuffix
}

func (k DocumentKind) String() string {
	return fmt.Sprintf("%s(%s)", k.Root, k.Document)
}

var (
	RequestChangeOfSupplier        = DocumentKind{Root: "RequestChangeOfSupplier", Element: ElementActivityRecord, TypeCode: "392", Document: DocumentRequestChangeOfSupplier}
	ConfirmRequestChangeOfSupplier = DocumentKind{Root: "ConfirmRequestChangeOfSupplier", Element: ElementActivityRecord, TypeCode: "414", Document: DocumentResponse}
	RejectRequestChangeOfSupplier  = DocumentKind{Root: "RejectRequestChangeOfSupplier", Element: ElementActivityRecord, TypeCode: "415", Document: DocumentResponse}

	RequestEndOfSupply        = DocumentKind{Root: "RequestEndOfSupply", Element: ElementActivityRecord, TypeCode: "432", Document: DocumentRequestEndOfSupply}
	ConfirmRequestEndOfSupply = DocumentKind{Root: "ConfirmRequestEndOfSupply", Element: ElementActivityRecord, TypeCode: "414", Document: DocumentResponse}
	RejectRequestEndOfSupply  = DocumentKind{Root: "RejectRequestEndOfSupply", Element: ElementActivityRecord, TypeCode: "415", Document: DocumentResponse}
	NotifyEndOfSupply         = DocumentKind{Root: "NotifyEndOfSupply", Element: ElementActivityRecord, TypeCode: "E44", Document: DocumentNotifyEndOfSupply}

	RequestValidatedMeasureData       = DocumentKind{Root: "RequestValidatedMeasureData", Element: ElementActivityRecord, TypeCode: "E73", Document: DocumentRequestMeteredData}
	RejectRequestValidatedMeasureData = DocumentKind{Root: "RejectRequestValidatedMeasureData", Element: ElementActivityRecord, TypeCode: "415", Document: DocumentResponse}
	NotifyValidatedMeasureData        = DocumentKind{Root: "NotifyValidatedMeasureData", Element: ElementSeries, TypeCode: "E66", Document: DocumentMeteredData}

	NotifyAccountingPointCharacteristics = DocumentKind{Root: "NotifyAccountingPointCharacteristics", Element: ElementActivityRecord, TypeCode: "E07", Document: DocumentAccountingPointMasterData}
	NotifyChargeLinks                    = DocumentKind{Root: "NotifyChargeLinks", Element: ElementActivityRecord, TypeCode: "E0G", Document: DocumentChargeLinks}
	NotifyPriceList                      = DocumentKind{Root: "NotifyPriceList", Element: ElementSeries, TypeCode: "D12", Document: DocumentPriceList}
)

// DocumentKinds lists every document kind the codec can build.
func DocumentKinds() []DocumentKind {
	return []DocumentKind{
		RequestChangeOfSupplier,
		ConfirmRequestChangeOfSupplier,
		RejectRequestChangeOfSupplier,
		RequestEndOfSupply,
		ConfirmRequestEndOfSupply,
		RejectRequestEndOfSupply,
		NotifyEndOfSupply,
		RequestValidatedMeasureData,
		RejectRequestValidatedMeasureData,
		NotifyValidatedMeasureData,
		NotifyAccountingPointCharacteristics,
		NotifyChargeLinks,
		NotifyPriceList,
	}
}
