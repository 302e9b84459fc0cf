package invoice

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("OutputStorage", func() {
	var (
		baseDir string
		storage *OutputStorage
	)

	BeforeEach(func() {
		baseDir = GinkgoT().TempDir()
		var err error
		storage, err = NewOutputStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the images directory under the base", func() {
		Expect(filepath.Join(baseDir, "images")).To(BeADirectory())
	})

	Describe("SaveImage and GetImage", func() {
		It("round-trips image bytes", func() {
			name, err := storage.SaveImage("invoice_processed.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("invoice_processed.png"))

			data, err := storage.GetImage("invoice_processed.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png bytes"))
		})

		It("writes under the images directory", func() {
			_, err := storage.SaveImage("vis.png", []byte("data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Join(baseDir, "images", "vis.png")).To(BeAnExistingFile())
		})

		It("reports missing images", func() {
			_, err := storage.GetImage("nope.png")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("reading image"))
		})
	})
})
