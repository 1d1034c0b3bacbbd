package ingest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdash/internal/model"
)

const header = "Date,Order ID,Customer Name,Phone,Email,Item,Category,Quantity,Price Per Item,Total Amount,Discount %,Final Amount,Payment Method,Order Status,Delivery Type,Delivery Status,Notes"

func row(date, id, category, final, status string) string {
	return strings.Join([]string{
		date, id, "Asha Rao", "555-0100", "asha@example.com", "Latte", category,
		"2", "4.50", "9.00", "0", final, "Card", status, "Pickup", "Done", "",
	}, ",")
}

func TestParse_WellFormedRowsAreAllReturned(t *testing.T) {
	var lines []string
	lines = append(lines, header)
	for i := 0; i < 25; i++ {
		lines = append(lines, row("01/02/2024", fmt.Sprintf("o%d", i), "Coffee", "9.00", "Completed"))
	}
	recs := Parse(strings.Join(lines, "\n"))
	require.Len(t, recs, 25)
	assert.Equal(t, "o0", recs[0].OrderID)
	assert.Equal(t, "o24", recs[24].OrderID)
}

func TestParse_EmptyAndHeaderOnly(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.NotNil(t, Parse(""))
	assert.Empty(t, Parse(header))
	assert.Empty(t, Parse(header+"\n"))
	assert.Empty(t, Parse(header+"\n\n   \n"))
}

func TestParse_AllFieldsPositional(t *testing.T) {
	raw := header + "\n" +
		`25/12/2023,ORD-1,"Smith, John",555-0101,john@example.com,Cake,Bakery,3,2.5,7.5,10,6.75,UPI,Delivered,Home,Out for delivery,"ring twice, please"`
	recs := Parse(raw)
	require.Len(t, recs, 1)
	assert.Equal(t, model.OrderRecord{
		Date:            "2023-12-25T00:00:00.000Z",
		OrderID:         "ORD-1",
		CustomerName:    "Smith, John",
		CustomerPhone:   "555-0101",
		CustomerEmail:   "john@example.com",
		ItemName:        "Cake",
		Category:        "Bakery",
		Quantity:        3,
		PricePerItem:    2.5,
		TotalAmount:     7.5,
		DiscountPercent: 10,
		FinalAmount:     6.75,
		PaymentMethod:   "UPI",
		OrderStatus:     "Delivered",
		DeliveryType:    "Home",
		DeliveryStatus:  "Out for delivery",
		Notes:           "ring twice, please",
	}, recs[0])
}

func TestParse_ShortRowDefaults(t *testing.T) {
	recs := Parse(header + "\n01/01/2024,o1,Ann")
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, "Ann", r.CustomerName)
	assert.Equal(t, "", r.Category)
	assert.Equal(t, 0, r.Quantity)
	assert.Equal(t, 0.0, r.FinalAmount)
	assert.Equal(t, "", r.Notes)
}

func TestParse_Dates(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"25/12/2023", "2023-12-25T00:00:00.000Z"},
		{"1/2/2024", "2024-02-01T00:00:00.000Z"},
		{"05/06/23", "2023-06-05T00:00:00.000Z"},
		{"05/06/99", "1999-06-05T00:00:00.000Z"},
		{"25/12/2023 14:30", "2023-12-25T14:30:00.000Z"},
		{"31/02/2024", "2024-03-02T00:00:00.000Z"},
		{"13/13/2023", model.InvalidDate},
		{"00/01/2023", model.InvalidDate},
		{"aa/01/2023", model.InvalidDate},
		{"01/01/", model.InvalidDate},
		{"01/01/2023xyz", model.InvalidDate},
		{"2023-12-25", "2023-12-25"},
		{"Dec 25", "Dec 25"},
		{"12/2023", "12/2023"},
		{"", ""},
	}
	for _, c := range cases {
		recs := Parse(header + "\n" + c.in + ",o1")
		require.Len(t, recs, 1, c.in)
		assert.Equal(t, c.want, recs[0].Date, c.in)
	}
}

func TestParse_DateLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	recs := NewParser(WithLocation(loc)).Parse(header + "\n25/12/2023,o1")
	require.Len(t, recs, 1)
	assert.Equal(t, "2023-12-24T18:30:00.000Z", recs[0].Date)
}

func TestParse_NumericCoercion(t *testing.T) {
	line := "01/01/2024,o1,,,,,,abc,abc,12.5kg,-,7e1,Cash"
	recs, rep := NewParser().ParseReport(header + "\n" + line)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, 0, r.Quantity)
	assert.Equal(t, 0.0, r.PricePerItem)
	assert.Equal(t, 12.5, r.TotalAmount)
	assert.Equal(t, 0.0, r.DiscountPercent)
	assert.Equal(t, 70.0, r.FinalAmount)
	assert.Equal(t, 4, rep.CoercedNumbers)
}

func TestParse_QuantityPrefixAndNegative(t *testing.T) {
	recs := Parse(header + "\n01/01/2024,o1,,,,,,2.9\n01/01/2024,o2,,,,,,-3")
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].Quantity)
	assert.Equal(t, 0, recs[1].Quantity)
}

func TestParse_CRLFAndBlankLines(t *testing.T) {
	raw := header + "\r\n" + row("01/01/2024", "o1", "A", "1", "x") + "\r\n\r\n" + row("02/01/2024", "o2", "A", "2", "x") + "\r\n"
	recs := Parse(raw)
	require.Len(t, recs, 2)
	assert.Equal(t, "", recs[0].Notes)
	assert.Equal(t, "o2", recs[1].OrderID)
}

func TestParse_QuotedNewline(t *testing.T) {
	raw := header + "\n" +
		"01/01/2024,o1,Ann,,,,,1,1,1,0,1,Cash,Completed,,,\"line one\nline two\"\n" +
		"02/01/2024,o2,Bob"
	recs := Parse(raw)
	require.Len(t, recs, 2)
	assert.Equal(t, "line one\nline two", recs[0].Notes)
	assert.Equal(t, "o2", recs[1].OrderID)
}

func TestParse_StrayInchMarkKeepsRow(t *testing.T) {
	raw := header + "\n" +
		"01/01/2024,o1,Ann,,,Latte,Coffee,1,10,10,0,10,Cash,Completed,,,\n" +
		"01/01/2024,o2,Bob,,,27\" Monitor,Electronics,1,200,200,0,200,Card,Completed,,,\n" +
		"01/01/2024,o3,Cid,,,Mug,Home,1,5,5,0,5,Cash,Pending,,,"
	recs, rep := NewParser().ParseReport(raw)
	require.Len(t, recs, 3)
	assert.Equal(t, `27" Monitor`, recs[1].ItemName)
	assert.Equal(t, "Electronics", recs[1].Category)
	assert.Equal(t, 200.0, recs[1].FinalAmount)
	assert.Equal(t, "o3", recs[2].OrderID)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 3, rep.Parsed)
	assert.Equal(t, 1, rep.StrayQuotes)
}

func TestParse_OpenQuoteFollowedByStrayQuoteRows(t *testing.T) {
	raw := header + "\n" +
		"01/01/2024,o1,Ann,,,Latte,Coffee,1,10,10,0,10,Cash,Completed,,,\"VIP\n" +
		"02/01/2024,o2,Bob,,,27\" Monitor,Electronics,1,200,200,0,200,Card,Completed,,,\n" +
		"03/01/2024,o3,Cid,,,5\" screen,Electronics,1,50,50,0,50,Card,Pending,,,"
	recs, rep := NewParser().ParseReport(raw)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"o1", "o2", "o3"}, []string{recs[0].OrderID, recs[1].OrderID, recs[2].OrderID})
	assert.Equal(t, `"VIP`, recs[0].Notes)
	assert.Equal(t, 3, rep.Rows)
	assert.Equal(t, 3, rep.StrayQuotes)

	var revenue float64
	for _, r := range recs {
		revenue += r.FinalAmount
	}
	assert.Equal(t, 260.0, revenue)
}

func TestParseReport_Counts(t *testing.T) {
	raw := header + "\n" + row("13/13/2023", "o1", "A", "1", "x") + "\n" + row("01/01/2024", "o2", "A", "1", "x")
	_, rep := NewParser().ParseReport(raw)
	assert.Equal(t, 2, rep.Rows)
	assert.Equal(t, 2, rep.Parsed)
	assert.Equal(t, 1, rep.InvalidDates)
	assert.Equal(t, "Date", rep.Header[0])
	assert.Len(t, rep.Header, ColumnCount)
}
