package constants

// Column names of the remote invoice-verification list. The list is keyed
// by NodeID (the document repository's stable identifier); AI_* columns are
// overwritten wholesale on each processing run, Human_* columns only by an
// explicit validation write.
const (
	FieldNodeID   = "NodeID"
	FieldFilename = "Filename"
	FieldDocURL   = "DocURL"

	FieldAIInvoiceNumber = "AI_InvoiceNumber"
	FieldAICompanyName   = "AI_CompanyName"
	FieldAIInvoiceDate   = "AI_InvoiceDate"
	FieldAITotalAmount   = "AI_TotalAmount"
	FieldAIConfidence    = "AI_Confidence"
	FieldAIProcessed     = "AI_Processed"

	FieldHumanInvoiceNumber = "Human_InvoiceNumber"
	FieldHumanCompanyName   = "Human_CompanyName"
	FieldHumanInvoiceDate   = "Human_InvoiceDate"
	FieldHumanTotalAmount   = "Human_TotalAmount"
	FieldHumanValidated     = "Human_Validated"
	FieldHumanFlagged       = "Human_Flagged"
	FieldHumanNotes         = "Human_Notes"

	FieldOCRMethod    = "OCR_Method"
	FieldLLMUsed      = "LLM_Used"
	FieldTimeTakenSec = "Time_Taken_Sec"
)
