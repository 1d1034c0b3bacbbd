package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"bizdash/internal/logging"
)

type Config struct {
	Count     int
	Output    string
	Seed      uint64
	Messy     bool
	Bootstrap string
	Topic     string
	Key       string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("gensheet failed")
	}
}

func readFlags() Config {
	var cfg Config
	flag.IntVar(&cfg.Count, "count", 100, "number of orders to generate")
	flag.StringVar(&cfg.Output, "output", "orders.csv", "output file, - for stdout")
	flag.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	flag.BoolVar(&cfg.Messy, "messy", false, "mix in rows a spreadsheet export tends to contain: bad dates, text in numeric cells, quoted commas")
	flag.StringVar(&cfg.Bootstrap, "kafka-bootstrap", "", "also publish the export to kafka, e.g. localhost:9092")
	flag.StringVar(&cfg.Topic, "topic", "bizdash.orders.export", "kafka topic for the export")
	flag.StringVar(&cfg.Key, "key", "orders", "kafka message key for the export")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	var buf bytes.Buffer
	if err := generateOrders(&buf, cfg.Count, rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1)), cfg.Messy); err != nil {
		return err
	}

	if cfg.Output == "-" {
		if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	} else if err := os.WriteFile(cfg.Output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfg.Output, err)
	}

	if cfg.Bootstrap != "" {
		w := &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Bootstrap, ",")...),
			Topic:        cfg.Topic,
			RequiredAcks: kafka.RequireAll,
		}
		defer w.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(cfg.Key), Value: buf.Bytes()}); err != nil {
			return fmt.Errorf("publish export: %w", err)
		}
	}

	logging.Info().Int("count", cfg.Count).Str("output", cfg.Output).Bool("messy", cfg.Messy).Msg("generated orders")
	return nil
}

type item struct {
	name     string
	category string
	price    int
}

var (
	header = []string{
		"Date", "Order ID", "Customer Name", "Customer Phone", "Customer Email",
		"Item Name", "Category", "Quantity", "Price Per Item", "Total Amount",
		"Discount (%)", "Final Amount", "Payment Method", "Order Status",
		"Delivery Type", "Delivery Status", "Notes",
	}
	customers = []string{"Nguyen Van An", "Tran Thi Binh", "Le Hoang Cuong", "Pham Minh Duc", "Vo Thi Em"}
	items     = []item{
		{"Pho Bo", "Food", 55000},
		{"Banh Mi", "Food", 25000},
		{"Ca Phe Sua", "Drinks", 30000},
		{"Tra Dao", "Drinks", 35000},
		{"Ao Thun", "Apparel", 150000},
		{"Non La", "Accessories", 90000},
		{"Tai Nghe", "Electronics", 450000},
	}
	payments  = []string{"Cash", "Credit Card", "Bank Transfer", "E-Wallet"}
	statuses  = []string{"Completed", "Delivered", "Pending", "Processing", "Cancelled", "Failed"}
	delivery  = []string{"Standard", "Express", "Pickup"}
	delivered = map[string]string{
		"Completed": "Delivered", "Delivered": "Delivered", "Pending": "Waiting",
		"Processing": "In Transit", "Cancelled": "Returned", "Failed": "Returned",
	}
)

// generateOrders writes count rows in the spreadsheet's column order, dates
// as DD/MM/YYYY, one day per row ending yesterday.
func generateOrders(w io.Writer, count int, rng *rand.Rand, messy bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	day := time.Now().UTC().AddDate(0, 0, -count)
	for i := 0; i < count; i++ {
		it := items[rng.IntN(len(items))]
		qty := 1 + rng.IntN(5)
		discount := []int{0, 0, 5, 10, 15}[rng.IntN(5)]
		total := it.price * qty
		final := total * (100 - discount) / 100
		status := statuses[rng.IntN(len(statuses))]
		name := customers[rng.IntN(len(customers))]

		row := []string{
			day.AddDate(0, 0, i).Format("02/01/2006"),
			fmt.Sprintf("ORD%05d", i+1),
			name,
			fmt.Sprintf("09%08d", rng.IntN(100000000)),
			strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
			it.name,
			it.category,
			strconv.Itoa(qty),
			strconv.Itoa(it.price),
			strconv.Itoa(total),
			strconv.Itoa(discount),
			strconv.Itoa(final),
			payments[rng.IntN(len(payments))],
			status,
			delivery[rng.IntN(len(delivery))],
			delivered[status],
			"",
		}
		if messy {
			messUp(row, rng)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write order %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// messUp damages roughly one row in four the way hand-edited sheets do.
func messUp(row []string, rng *rand.Rand) {
	switch rng.IntN(8) {
	case 0:
		row[0] = "31/13/2024"
	case 1:
		row[11] = row[11] + " VND"
	case 2:
		row[16] = "call before delivery, gate code 12"
	case 3:
		row[7] = "n/a"
	}
}
