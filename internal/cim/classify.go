package cim

import "strings"

// Classification is the best-effort identity of an inbound document.
type Classification struct {
	Root            string
	BusinessProcess BusinessProcess
	DocumentType    DocumentType
	TypeCode        string
	ProcessTypeCode string
	DocumentID      string
	SenderID        string
	SenderRole      string
	ReceiverID      string
	ReceiverRole    string
}

// Classified reports whether a business process was determined.
func (c Classification) Classified() bool {
	return c.BusinessProcess != ""
}

type rule struct {
	prefix       string
	contains     []string
	processTypes []string
	process      BusinessProcess
	document     DocumentType
}

func (r rule) matches(name, processType string) bool {
	if r.prefix != "" && !strings.HasPrefix(name, r.prefix) {
		return false
	}
	for _, part := range r.contains {
		if !strings.Contains(name, part) {
			return false
		}
	}
	if len(r.processTypes) == 0 {
		return true
	}
	for _, code := range r.processTypes {
		if code == processType {
			return true
		}
	}
	return false
}

// Order matters: the first matching rule wins, so narrower rules precede
// the broader ones sharing their substrings.
var classificationRules = []rule{
	{prefix: "Request", contains: []string{"ChangeOfSupplier"}, processTypes: []string{ProcessTypeMoveIn}, process: ProcessMoveIn, document: DocumentRequestChangeOfSupplier},
	{prefix: "Request", contains: []string{"ChangeOfSupplier"}, process: ProcessSupplierSwitch, document: DocumentRequestChangeOfSupplier},
	{prefix: "Request", contains: []string{"EndOfSupply"}, processTypes: []string{ProcessTypeMoveOut}, process: ProcessMoveOut, document: DocumentRequestEndOfSupply},
	{prefix: "Request", contains: []string{"EndOfSupply"}, process: ProcessEndOfSupply, document: DocumentRequestEndOfSupply},
	{prefix: "Request", contains: []string{"ValidatedMeasureData"}, process: ProcessMeteredDataRequest, document: DocumentRequestMeteredData},

	{contains: []string{"EndOfSupply", "Notify"}, process: ProcessSupplierSwitch, document: DocumentNotifyEndOfSupply},
	{contains: []string{"EndOfSupply"}, processTypes: []string{ProcessTypeMoveOut}, process: ProcessMoveOut, document: DocumentResponse},
	{contains: []string{"EndOfSupply"}, process: ProcessEndOfSupply, document: DocumentResponse},
	{contains: []string{"ChangeOfSupplier"}, processTypes: []string{ProcessTypeMoveIn}, process: ProcessMoveIn, document: DocumentResponse},
	{contains: []string{"ChangeOfSupplier"}, process: ProcessSupplierSwitch, document: DocumentResponse},
	{contains: []string{"RequestValidatedMeasureData"}, process: ProcessMeteredDataRequest, document: DocumentResponse},
	{contains: []string{"ValidatedMeasureData"}, processTypes: []string{ProcessTypeHistoricalData}, process: ProcessMeteredDataRequest, document: DocumentMeteredData},
	{contains: []string{"ValidatedMeasureData"}, process: ProcessMeteredData, document: DocumentMeteredData},
	{contains: []string{"AccountingPointCharacteristics"}, process: ProcessMasterData, document: DocumentAccountingPointMasterData},
	{contains: []string{"ChargeLinks"}, process: ProcessChargeLinks, document: DocumentChargeLinks},
	{contains: []string{"PriceList"}, process: ProcessPriceList, document: DocumentPriceList},
}

type fallback struct {
	process  BusinessProcess
	document DocumentType
}

var processTypeFallbacks = map[string]fallback{
	ProcessTypeChangeOfSupplier: {ProcessSupplierSwitch, DocumentResponse},
	ProcessTypeEndOfSupply:      {ProcessEndOfSupply, DocumentResponse},
	ProcessTypeMasterData:       {ProcessMasterData, DocumentAccountingPointMasterData},
	ProcessTypeMoveIn:           {ProcessMoveIn, DocumentResponse},
	ProcessTypeMoveOut:          {ProcessMoveOut, DocumentResponse},
	ProcessTypeMeteredData:      {ProcessMeteredData, DocumentMeteredData},
	ProcessTypeHistoricalData:   {ProcessMeteredDataRequest, DocumentMeteredData},
	ProcessTypePriceList:        {ProcessPriceList, DocumentPriceList},
	ProcessTypeChargeLinks:      {ProcessChargeLinks, DocumentChargeLinks},
}

// Classify identifies a raw payload. It never fails: an unrecognized
// payload yields a zero Classification.
func Classify(raw []byte) Classification {
	doc, err := Parse(raw)
	if err != nil {
		return Classification{}
	}
	return ClassifyDocument(doc)
}

// ClassifyDocument identifies a parsed document by root name first and by
// process type code second.
func ClassifyDocument(doc *Document) Classification {
	if doc == nil {
		return Classification{}
	}
	c := Classification{
		Root:            doc.Root,
		TypeCode:        doc.HeaderValue("type"),
		ProcessTypeCode: doc.HeaderValue("process.processType"),
		DocumentID:      doc.HeaderValue("mRID"),
		SenderID:        doc.HeaderValue("sender_MarketParticipant.mRID"),
		SenderRole:      doc.HeaderValue("sender_MarketParticipant.marketRole.type"),
		ReceiverID:      doc.HeaderValue("receiver_MarketParticipant.mRID"),
		ReceiverRole:    doc.HeaderValue("receiver_MarketParticipant.marketRole.type"),
	}

	name := doc.Name()
	for _, r := range classificationRules {
		if r.matches(name, c.ProcessTypeCode) {
			c.BusinessProcess = r.process
			c.DocumentType = r.document
			return c
		}
	}
	if fb, ok := processTypeFallbacks[c.ProcessTypeCode]; ok {
		c.BusinessProcess = fb.process
		c.DocumentType = fb.document
	}
	return c
}
