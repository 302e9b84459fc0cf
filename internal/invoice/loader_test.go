package invoice

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Loader", func() {
	var (
		loader *Loader
		tmpDir string
	)

	BeforeEach(func() {
		loader = NewLoader()
		tmpDir = GinkgoT().TempDir()
	})

	When("the file is a valid image", func() {
		It("decodes it with its dimensions intact", func() {
			path := writePage(tmpDir, "scan.png", 120, 80)
			img, err := loader.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(120))
			Expect(img.Bounds().Dy()).To(Equal(80))
		})
	})

	When("the file does not exist", func() {
		It("reports an unreadable image", func() {
			_, err := loader.Load(filepath.Join(tmpDir, "missing.png"))
			Expect(err).To(MatchError(ErrLoad))
		})
	})

	When("the file is not an image", func() {
		It("reports an unreadable image", func() {
			path := filepath.Join(tmpDir, "garbage.png")
			Expect(os.WriteFile(path, []byte("definitely not a PNG"), 0644)).To(Succeed())

			_, err := loader.Load(path)
			Expect(err).To(MatchError(ErrLoad))
		})
	})

	When("the file is a truncated PDF", func() {
		It("reports an unreadable image instead of panicking", func() {
			path := filepath.Join(tmpDir, "broken.pdf")
			Expect(os.WriteFile(path, []byte("%PDF-1.7 and nothing else"), 0644)).To(Succeed())

			_, err := loader.Load(path)
			Expect(err).To(MatchError(ErrLoad))
		})
	})
})
