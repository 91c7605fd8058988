package e2e

import (
	"fmt"
	"strings"
)

// StoreDocument is a knowledge-base entry in the E2E corpus.
type StoreDocument struct {
	ID      string
	Topic   string
	Content string
}

// QueryTestCase defines a customer question and the document IDs that may answer it.
// At least one of ExpectedDocIDs must be among the retrieved chunks.
type QueryTestCase struct {
	Query          string
	ExpectedDocIDs []string
	Description    string
}

// Corpus holds documents and query test cases for E2E tests.
type Corpus struct {
	Documents    []StoreDocument
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

type topic struct {
	name    string
	phrase  string
	content string
}

var topics = []topic{
	{"shipping", "delivery days shipping", "Standard shipping inside the city takes two delivery days. Other regions need up to five delivery days shipping by courier."},
	{"returns", "returns refund receipt", "Unused items can be returned within fourteen days. Returns refund receipt must be shown at the counter."},
	{"warranty", "warranty manufacturer defects", "Every appliance carries a two year warranty. The warranty manufacturer defects clause excludes misuse and power surges."},
	{"payment", "payment cards installments", "We accept cash and bank transfer. Payment cards installments are available over six or twelve months."},
	{"hours", "opening hours weekdays", "The showroom is open from ten until ten. Opening hours weekdays differ during public holidays."},
	{"installation", "installation technician visit", "Air conditioners include free mounting. Installation technician visit is scheduled within three working days."},
	{"tracking", "tracking number courier", "Orders get a tracking number by SMS. The tracking number courier portal shows the parcel location."},
	{"cancellation", "cancel order before dispatch", "You can cancel order before dispatch from your account page. Dispatched parcels follow the returns process."},
	{"membership", "loyalty points membership", "Members earn loyalty points on every purchase. Loyalty points membership tiers unlock extra discounts."},
	{"gift", "gift cards balance", "Gift cards never expire. Check gift cards balance at any cashier or on the website."},
	{"maintenance", "repair center spare parts", "Out of warranty devices go to our repair center. Repair center spare parts are original only."},
	{"price", "price match guarantee", "Found it cheaper elsewhere? Our price match guarantee covers authorized local retailers."},
	{"pickup", "store pickup counter", "Online orders can be collected at the store pickup counter after a confirmation message."},
	{"damaged", "damaged parcel report", "Inspect packages on arrival. A damaged parcel report must be filed within forty eight hours."},
	{"invoice", "tax invoice company", "Businesses can request a tax invoice company name and registration number at checkout."},
	{"recycling", "old appliance recycling", "Bring your old appliance recycling is free when you buy a replacement of the same type."},
	{"الشحن", "مدة التوصيل للمحافظات", "يستغرق التوصيل داخل المدينة يومين. مدة التوصيل للمحافظات تصل إلى خمسة أيام عمل."},
	{"الضمان", "ضمان الأجهزة الكهربائية", "ضمان الأجهزة الكهربائية سنتان من تاريخ الشراء ويشمل عيوب التصنيع فقط."},
	{"الاسترجاع", "استرجاع المنتج خلال أسبوعين", "يمكن استرجاع المنتج خلال أسبوعين بشرط سلامة العبوة وإحضار الفاتورة."},
	{"الدفع", "الدفع عند الاستلام", "نوفر الدفع عند الاستلام داخل المدن الرئيسية والتقسيط عبر البطاقات البنكية."},
}

// BuildCorpus returns n documents cycling through store topics, each with a unique branch
// reference, plus one query case per topic and one per branch reference.
func BuildCorpus(n int) *Corpus {
	docs := make([]StoreDocument, 0, n)
	byTopic := make(map[string][]string)
	for i := 0; i < n; i++ {
		tp := topics[i%len(topics)]
		id := fmt.Sprintf("kb-%03d", i)
		docs = append(docs, StoreDocument{
			ID:      id,
			Topic:   tp.name,
			Content: fmt.Sprintf("%s Branch %s applies this policy.", tp.content, branchCode(i)),
		})
		byTopic[tp.name] = append(byTopic[tp.name], id)
	}

	var cases []QueryTestCase
	for _, tp := range topics {
		ids := byTopic[tp.name]
		if len(ids) == 0 {
			continue
		}
		cases = append(cases, QueryTestCase{
			Query:          tp.phrase,
			ExpectedDocIDs: ids,
			Description:    "topic " + tp.name,
		})
	}
	for i, d := range docs {
		if i%7 != 0 {
			continue
		}
		cases = append(cases, QueryTestCase{
			Query:          fmt.Sprintf("which policy does branch %s apply", branchCode(i)),
			ExpectedDocIDs: []string{d.ID},
			Description:    "branch " + branchCode(i),
		})
	}
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

// branchCode is a unique letter-only token per document (aaa, aab, ...).
func branchCode(i int) string {
	var b strings.Builder
	b.WriteString("br")
	for _, div := range []int{676, 26, 1} {
		b.WriteByte(byte('a' + (i/div)%26))
	}
	return b.String()
}
