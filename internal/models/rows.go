package models

import "strconv"

// Row kinds. Each kind designates one business field as its natural key.
const (
	KindIngress = "ingress"
	KindEgress  = "egress"
)

// Row is the behaviour shared by IngressRow and EgressRow that the
// reconciliation and patching code relies on.
type Row interface {
	Page() int
	NaturalKey() *string
	// Values renders every non-nil data field as a string keyed by its JSON name.
	// Page number and unreadable-field sets are not data fields.
	Values() map[string]string
}

// IngressRow is one line of income declared in a disclosure.
type IngressRow struct {
	PageNumber      int      `firestore:"pageNumber" json:"pageNumber"`
	Date            *string  `firestore:"date,omitempty" json:"date,omitempty"`
	ReceiptNumber   *string  `firestore:"receiptNumber,omitempty" json:"receiptNumber,omitempty"`
	ContributorName *string  `firestore:"contributorName,omitempty" json:"contributorName,omitempty"`
	ContributorRUC  *string  `firestore:"contributorRuc,omitempty" json:"contributorRuc,omitempty"`
	Concept         *string  `firestore:"concept,omitempty" json:"concept,omitempty"`
	PaymentMethod   *string  `firestore:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	Total           *float64 `firestore:"total,omitempty" json:"total,omitempty"`

	UnreadableFields      []string `firestore:"unreadableFields,omitempty" json:"unreadableFields,omitempty"`
	HumanUnreadableFields []string `firestore:"humanUnreadableFields,omitempty" json:"humanUnreadableFields,omitempty"`
}

func (r IngressRow) Page() int           { return r.PageNumber }
func (r IngressRow) NaturalKey() *string { return r.ReceiptNumber }
func (r IngressRow) WithPage(p int) IngressRow {
	r.PageNumber = p
	return r
}

// Validated returns a copy fit for a ValidatedDataset: the AI-declared
// unreadable set does not survive human review.
func (r IngressRow) Validated() IngressRow {
	r.UnreadableFields = nil
	return r
}

func (r IngressRow) Values() map[string]string {
	v := make(map[string]string, 7)
	putString(v, "date", r.Date)
	putString(v, "receiptNumber", r.ReceiptNumber)
	putString(v, "contributorName", r.ContributorName)
	putString(v, "contributorRuc", r.ContributorRUC)
	putString(v, "concept", r.Concept)
	putString(v, "paymentMethod", r.PaymentMethod)
	putFloat(v, "total", r.Total)
	return v
}

// EgressRow is one line of expenditure declared in a disclosure.
type EgressRow struct {
	PageNumber    int      `firestore:"pageNumber" json:"pageNumber"`
	Date          *string  `firestore:"date,omitempty" json:"date,omitempty"`
	InvoiceNumber *string  `firestore:"invoiceNumber,omitempty" json:"invoiceNumber,omitempty"`
	DocumentType  *string  `firestore:"documentType,omitempty" json:"documentType,omitempty"`
	SupplierName  *string  `firestore:"supplierName,omitempty" json:"supplierName,omitempty"`
	SupplierRUC   *string  `firestore:"supplierRuc,omitempty" json:"supplierRuc,omitempty"`
	Concept       *string  `firestore:"concept,omitempty" json:"concept,omitempty"`
	Total         *float64 `firestore:"total,omitempty" json:"total,omitempty"`

	UnreadableFields      []string `firestore:"unreadableFields,omitempty" json:"unreadableFields,omitempty"`
	HumanUnreadableFields []string `firestore:"humanUnreadableFields,omitempty" json:"humanUnreadableFields,omitempty"`
}

func (r EgressRow) Page() int           { return r.PageNumber }
func (r EgressRow) NaturalKey() *string { return r.InvoiceNumber }
func (r EgressRow) WithPage(p int) EgressRow {
	r.PageNumber = p
	return r
}

func (r EgressRow) Validated() EgressRow {
	r.UnreadableFields = nil
	return r
}

func (r EgressRow) Values() map[string]string {
	v := make(map[string]string, 7)
	putString(v, "date", r.Date)
	putString(v, "invoiceNumber", r.InvoiceNumber)
	putString(v, "documentType", r.DocumentType)
	putString(v, "supplierName", r.SupplierName)
	putString(v, "supplierRuc", r.SupplierRUC)
	putString(v, "concept", r.Concept)
	putFloat(v, "total", r.Total)
	return v
}

// RowSet is the extraction result for one unit, one run, or one validated dataset.
type RowSet struct {
	Ingress []IngressRow `firestore:"ingress" json:"ingress"`
	Egress  []EgressRow  `firestore:"egress" json:"egress"`
}

// NewRowSet returns a RowSet whose slices are non-nil so it always
// serializes as empty arrays rather than null.
func NewRowSet() RowSet {
	return RowSet{Ingress: []IngressRow{}, Egress: []EgressRow{}}
}

// Len is the total number of rows of both kinds.
func (s RowSet) Len() int {
	return len(s.Ingress) + len(s.Egress)
}

// Validated strips AI-declared unreadable sets from every row.
func (s RowSet) Validated() RowSet {
	out := RowSet{
		Ingress: make([]IngressRow, len(s.Ingress)),
		Egress:  make([]EgressRow, len(s.Egress)),
	}
	for i, r := range s.Ingress {
		out.Ingress[i] = r.Validated()
	}
	for i, r := range s.Egress {
		out.Egress[i] = r.Validated()
	}
	return out
}

func putString(m map[string]string, name string, v *string) {
	if v != nil {
		m[name] = *v
	}
}

func putFloat(m map[string]string, name string, v *float64) {
	if v != nil {
		m[name] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
}
