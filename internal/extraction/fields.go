package extraction

import "github.com/Lllllllleong/disclosureflow/internal/models"

// FieldType is the JSON type of a row field in the model's output.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
)

// Field describes one data column the model is asked to read.
type Field struct {
	Name        string
	Type        FieldType
	Description string
}

// IngressFields are the columns of an income table, in prompt order.
var IngressFields = []Field{
	{Name: "date", Type: FieldString, Description: "Date of the receipt as printed (DD/MM/YYYY preferred)."},
	{Name: "receiptNumber", Type: FieldString, Description: "Receipt or voucher number identifying the contribution."},
	{Name: "contributorName", Type: FieldString, Description: "Full name of the contributor."},
	{Name: "contributorRuc", Type: FieldString, Description: "Tax identification number (RUC/DNI) of the contributor."},
	{Name: "concept", Type: FieldString, Description: "Concept or description of the income."},
	{Name: "paymentMethod", Type: FieldString, Description: "Cash, transfer, cheque or in-kind."},
	{Name: "total", Type: FieldNumber, Description: "Amount of the row as a plain number without currency symbols."},
}

// EgressFields are the columns of an expenditure table, in prompt order.
var EgressFields = []Field{
	{Name: "date", Type: FieldString, Description: "Date of the invoice as printed (DD/MM/YYYY preferred)."},
	{Name: "invoiceNumber", Type: FieldString, Description: "Invoice, receipt or voucher number for the expense."},
	{Name: "documentType", Type: FieldString, Description: "Type of supporting document (factura, boleta, recibo...)."},
	{Name: "supplierName", Type: FieldString, Description: "Name of the supplier or payee."},
	{Name: "supplierRuc", Type: FieldString, Description: "Tax identification number (RUC) of the supplier."},
	{Name: "concept", Type: FieldString, Description: "Concept or description of the expense."},
	{Name: "total", Type: FieldNumber, Description: "Amount of the row as a plain number without currency symbols."},
}

// FieldsFor returns the column catalogue of a row kind.
func FieldsFor(kind string) []Field {
	if kind == models.KindEgress {
		return EgressFields
	}
	return IngressFields
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
