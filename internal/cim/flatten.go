package cim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field is a canonical flattened field name.
type Field string

const (
	FieldGSRN                  Field = "gsrn"
	FieldTransactionID         Field = "transactionId"
	FieldOriginalTransactionID Field = "originalTransactionId"
	FieldEffectiveDate         Field = "effectiveDate"
	FieldStopDate              Field = "stopDate"
	FieldCustomerID            Field = "customerId"
	FieldCustomerName          Field = "customerName"
	FieldBalanceSupplier       Field = "balanceSupplier"
	FieldGridArea              Field = "gridArea"
	FieldPriceArea             Field = "priceArea"
	FieldMeteringPointType     Field = "meteringPointType"
	FieldSettlementMethod      Field = "settlementMethod"
	FieldChargeID              Field = "chargeId"
	FieldChargeOwner           Field = "chargeOwner"
	FieldChargeType            Field = "chargeType"
	FieldChargeName            Field = "chargeName"
	FieldReasonCode            Field = "reasonCode"
	FieldReasonText            Field = "reasonText"
	FieldStreet                Field = "street"
	FieldBuildingNumber        Field = "buildingNumber"
	FieldPostCode              Field = "postCode"
	FieldCity                  Field = "city"
	FieldAccepted              Field = "accepted"
	FieldResolution            Field = "resolution"
	FieldPeriodStart           Field = "periodStart"
	FieldPeriodEnd             Field = "periodEnd"
)

type fieldSource struct {
	field   Field
	sources []string
}

// Sources are tried in order; the first present value wins.
var fieldSources = []fieldSource{
	{FieldGSRN, []string{"marketEvaluationPoint.mRID", "MarketEvaluationPoint.mRID"}},
	{FieldTransactionID, []string{"mRID"}},
	{FieldOriginalTransactionID, []string{"originalTransactionIDReference_MktActivityRecord.mRID", "originalTransactionIDReference_Series.mRID"}},
	{FieldEffectiveDate, []string{"start_DateAndOrTime.dateTime", "validityStart_DateAndOrTime.dateTime", "effective_DateAndOrTime.dateTime"}},
	{FieldStopDate, []string{"end_DateAndOrTime.dateTime", "validityEnd_DateAndOrTime.dateTime"}},
	{FieldCustomerID, []string{"customer_MarketParticipant.mRID", "marketEvaluationPoint.customer_MarketParticipant.mRID"}},
	{FieldCustomerName, []string{"customer_MarketParticipant.name", "marketEvaluationPoint.customer_MarketParticipant.name", "firstCustomer_MarketParticipant.name"}},
	{FieldBalanceSupplier, []string{"balanceSupplier_MarketParticipant.mRID", "energySupplier_MarketParticipant.mRID"}},
	{FieldGridArea, []string{"meteringGridArea_Domain.mRID", "marketEvaluationPoint.meteringGridArea_Domain.mRID"}},
	{FieldPriceArea, []string{"marketEvaluationPoint.priceArea_Domain.mRID", "priceArea_Domain.mRID"}},
	{FieldMeteringPointType, []string{"marketEvaluationPoint.type"}},
	{FieldSettlementMethod, []string{"marketEvaluationPoint.settlementMethod"}},
	{FieldChargeID, []string{"chargeType.mRID", "ChargeType.mRID"}},
	{FieldChargeOwner, []string{"chargeType.chargeTypeOwner_MarketParticipant.mRID", "chargeTypeOwner_MarketParticipant.mRID"}},
	{FieldChargeType, []string{"chargeType.type", "ChargeType.type"}},
	{FieldChargeName, []string{"chargeType.name"}},
	{FieldReasonCode, []string{"reason.code", "Reason.code"}},
	{FieldReasonText, []string{"reason.text", "Reason.text"}},
	{FieldStreet, []string{"usagePointLocation.mainAddress.streetDetail.name"}},
	{FieldBuildingNumber, []string{"usagePointLocation.mainAddress.streetDetail.number"}},
	{FieldPostCode, []string{"usagePointLocation.mainAddress.postalCode"}},
	{FieldCity, []string{"usagePointLocation.mainAddress.townDetail.name"}},
}

// Fields is the canonical flat field map handed to handlers.
type Fields map[Field]string

// Get returns a field value.
func (f Fields) Get(field Field) (string, bool) {
	value, ok := f[field]
	return value, ok && value != ""
}

// String returns a field value or "".
func (f Fields) String(field Field) string {
	return f[field]
}

// Time parses a timestamp field. Missing fields return ok=false and no error.
func (f Fields) Time(field Field) (time.Time, bool, error) {
	value, ok := f.Get(field)
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := ParseTime(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// Accepted reports whether the document is a positive response.
func (f Fields) Accepted() bool {
	return f[FieldAccepted] != "false"
}

// Observation is one metered quantity at an absolute timestamp.
type Observation struct {
	Timestamp time.Time
	Quantity  decimal.Decimal
	Quality   string
}

// PricePoint is one price at an absolute timestamp.
type PricePoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Flattened is the canonical view of an inbound document.
type Flattened struct {
	BusinessProcess BusinessProcess
	DocumentType    DocumentType
	DocumentID      string
	Root            string
	Fields          Fields
	Resolution      Resolution
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Observations    []Observation
	PricePoints     []PricePoint
}

// HasPoints reports whether the document carried a Period structure.
func (f *Flattened) HasPoints() bool {
	return len(f.Observations) > 0 || len(f.PricePoints) > 0
}

// Flatten extracts canonical fields from the first transaction entry and
// converts any position-indexed points into absolute timestamps.
func Flatten(doc *Document, bp BusinessProcess, dt DocumentType) (*Flattened, error) {
	if doc == nil {
		return nil, ErrNotClassified
	}
	out := &Flattened{
		BusinessProcess: bp,
		DocumentType:    dt,
		DocumentID:      doc.HeaderValue("mRID"),
		Root:            doc.Root,
		Fields:          Fields{},
	}

	name := doc.Name()
	switch {
	case strings.HasPrefix(name, "Reject"):
		out.Fields[FieldAccepted] = "false"
	case strings.HasPrefix(name, "Confirm"):
		out.Fields[FieldAccepted] = "true"
	}

	if len(doc.Transactions) == 0 {
		return out, nil
	}
	record := doc.Transactions[0]
	for _, fs := range fieldSources {
		for _, source := range fs.sources {
			raw, ok := lookup(record, source)
			if !ok {
				continue
			}
			if value, ok := Unwrap(raw); ok && value != "" {
				out.Fields[fs.field] = value
				break
			}
		}
	}

	prices := carriesPrices(bp, dt, doc.HeaderValue("process.processType"))
	for _, period := range periods(record) {
		if err := out.addPeriod(period, prices); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Price lists reuse the metered-data Period layout, so the document identity
// decides how points are read.
func carriesPrices(bp BusinessProcess, dt DocumentType, processType string) bool {
	return dt == DocumentPriceList || bp == ProcessPriceList || processType == ProcessTypePriceList
}

func periods(record map[string]any) []map[string]any {
	switch v := record["Period"].(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if p, ok := item.(map[string]any); ok {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

func (f *Flattened) addPeriod(period map[string]any, prices bool) error {
	resolutionRaw, _ := Unwrap(period["resolution"])
	resolution, err := ParseResolution(resolutionRaw)
	if err != nil {
		return err
	}
	startRaw, _ := lookupValue(period, "timeInterval.start")
	start, err := ParseTime(startRaw)
	if err != nil {
		return err
	}
	var end time.Time
	if endRaw, ok := lookupValue(period, "timeInterval.end"); ok {
		if end, err = ParseTime(endRaw); err != nil {
			return err
		}
	}

	if f.Resolution == "" {
		f.Resolution = resolution
		f.Fields[FieldResolution] = string(resolution)
	}
	if f.PeriodStart.IsZero() || start.Before(f.PeriodStart) {
		f.PeriodStart = start
		f.Fields[FieldPeriodStart] = FormatTime(start)
	}
	if end.After(f.PeriodEnd) {
		f.PeriodEnd = end
		f.Fields[FieldPeriodEnd] = FormatTime(end)
	}

	points, err := parsePoints(period["Point"])
	if err != nil {
		return err
	}
	for _, p := range points {
		ts := resolution.At(start, p.position)
		if prices {
			price, err := decimalValue(p.record, "price.amount")
			if err != nil {
				return err
			}
			f.PricePoints = append(f.PricePoints, PricePoint{Timestamp: ts, Price: price})
			continue
		}
		quantity, err := decimalValue(p.record, "quantity")
		if err != nil {
			return err
		}
		quality, _ := lookupValue(p.record, "quality")
		f.Observations = append(f.Observations, Observation{Timestamp: ts, Quantity: quantity, Quality: quality})
	}
	return nil
}

type point struct {
	position int
	record   map[string]any
}

func parsePoints(raw any) ([]point, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, nil
	}
	out := make([]point, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		posRaw, _ := Unwrap(record["position"])
		position, err := strconv.Atoi(posRaw)
		if err != nil || position < 1 {
			return nil, &ValidationError{Field: "position", Value: posRaw}
		}
		out = append(out, point{position: position, record: record})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].position < out[j].position })
	return out, nil
}

func lookupValue(record map[string]any, path string) (string, bool) {
	raw, ok := lookup(record, path)
	if !ok {
		return "", false
	}
	return Unwrap(raw)
}

// Missing quantities (quality "missing") read as zero.
func decimalValue(record map[string]any, path string) (decimal.Decimal, error) {
	value, ok := lookupValue(record, path)
	if !ok || value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: path, Value: value}
	}
	return d, nil
}

func (f *Flattened) String() string {
	return fmt.Sprintf("%s/%s gsrn=%s tx=%s", f.BusinessProcess, f.DocumentType, f.Fields[FieldGSRN], f.Fields[FieldTransactionID])
}
