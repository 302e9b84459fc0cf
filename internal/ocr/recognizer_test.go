package ocr

import (
	"context"
	"errors"
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockEngine is a mock implementation of Engine
type mockEngine struct {
	text       string
	confidence float64
	err        error
	seenBounds image.Rectangle
}

func (m *mockEngine) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	m.seenBounds = img.Bounds()
	if m.err != nil {
		return "", 0, m.err
	}
	return m.text, m.confidence, nil
}

func (m *mockEngine) Close() error {
	return nil
}

var _ = Describe("Recognizer", func() {
	var (
		engine     *mockEngine
		recognizer *Recognizer
		img        image.Image
		region     *image.Rectangle
		text       string
		confidence float64
		err        error
	)

	BeforeEach(func() {
		engine = &mockEngine{text: "Счет №  123", confidence: 0.87}
		recognizer = NewRecognizer(engine)
		img = image.NewGray(image.Rect(0, 0, 100, 60))
		region = nil
	})

	JustBeforeEach(func() {
		text, confidence, err = recognizer.RecognizeWithConfidence(context.Background(), img, region)
	})

	When("recognition succeeds on the whole image", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns postprocessed text with the engine confidence", func() {
			Expect(text).To(Equal("Счет № 123"))
			Expect(confidence).To(Equal(0.87))
		})

		It("feeds the engine the full preprocessed image", func() {
			Expect(engine.seenBounds.Dx()).To(Equal(100))
			Expect(engine.seenBounds.Dy()).To(Equal(60))
		})
	})

	When("a region is given", func() {
		BeforeEach(func() {
			r := image.Rect(10, 10, 40, 30)
			region = &r
		})

		It("crops before recognition", func() {
			Expect(engine.seenBounds.Dx()).To(Equal(30))
			Expect(engine.seenBounds.Dy()).To(Equal(20))
		})
	})

	When("the engine produces only whitespace", func() {
		BeforeEach(func() {
			engine.text = "  \n\t "
		})

		It("reports an empty result", func() {
			Expect(err).To(MatchError(ErrEmptyResult))
		})
	})

	When("the engine fails", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("engine offline")
			engine.err = setupErr
		})

		It("wraps and returns the error", func() {
			Expect(err).To(MatchError(setupErr))
		})
	})
})
