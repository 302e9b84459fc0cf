package invoice

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Zeed80/invoice-recognition/internal/detect"
)

var _ = Describe("BoltSnapshots", func() {
	var (
		store    *BoltSnapshots
		snapshot *Snapshot
	)

	BeforeEach(func() {
		var err error
		store, err = NewBoltSnapshots(filepath.Join(GinkgoT().TempDir(), "invoices.db"))
		Expect(err).NotTo(HaveOccurred())

		number := "А-123"
		snapshot = &Snapshot{
			Structured: &StructuredInvoice{
				InvoiceNumber: &number,
				Items:         []LineItem{},
			},
			RawResults: RegionResults{
				detect.RegionInvoiceNumber: {Text: "Счет № А-123", Confidence: 0.9},
			},
			ProcessingTime: "20240115_100000",
			SourceImage:    "/scans/invoice.png",
		}
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("SaveSnapshot and GetSnapshot", func() {
		It("round-trips a snapshot", func() {
			Expect(store.SaveSnapshot("invoice_20240115_100000", snapshot)).To(Succeed())

			loaded, err := store.GetSnapshot("invoice_20240115_100000")
			Expect(err).NotTo(HaveOccurred())
			Expect(*loaded.Structured.InvoiceNumber).To(Equal("А-123"))
			Expect(loaded.RawResults).To(HaveKey(detect.RegionInvoiceNumber))
			Expect(loaded.SourceImage).To(Equal("/scans/invoice.png"))
		})

		It("returns an error for unknown keys", func() {
			_, err := store.GetSnapshot("nope")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("snapshot not found"))
		})
	})

	Describe("ListKeys", func() {
		BeforeEach(func() {
			Expect(store.SaveSnapshot("invoice_1", snapshot)).To(Succeed())
			Expect(store.SaveSnapshot("invoice_2", snapshot)).To(Succeed())
			Expect(store.SaveSnapshot("other_1", snapshot)).To(Succeed())
		})

		It("returns only keys with the given prefix", func() {
			keys, err := store.ListKeys("invoice_")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(ConsistOf("invoice_1", "invoice_2"))
		})

		It("returns everything for an empty prefix", func() {
			keys, err := store.ListKeys("")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(3))
		})
	})
})
