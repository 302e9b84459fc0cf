package queue

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Zeed80/invoice-recognition/internal/detect"
	"github.com/Zeed80/invoice-recognition/internal/invoice"
)

// mockDetector is a mock implementation of invoice.Detector
type mockDetector struct {
	detections detect.Detections
}

func (m *mockDetector) Detect(img image.Image) (detect.Detections, error) {
	return m.detections, nil
}

// mockRecognizer is a mock implementation of invoice.Recognizer
type mockRecognizer struct {
	text string
}

func (m *mockRecognizer) RecognizeWithConfidence(ctx context.Context, img image.Image, region *image.Rectangle) (string, float64, error) {
	return m.text, 1.0, nil
}

// mockExtractor is a mock implementation of invoice.Extractor
type mockExtractor struct{}

func (m *mockExtractor) Extract(text string, kind detect.RegionKind, confidence *float64) invoice.Field {
	return invoice.Field{Value: &text, Confidence: confidence, RawText: text}
}

func (m *mockExtractor) ExtractItems(text string) []invoice.LineItem {
	return nil
}

func writeTestImage(dir, name string) string {
	path := filepath.Join(dir, name)
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(png.Encode(f, img)).To(Succeed())
	return path
}

var _ = Describe("Worker", func() {
	var (
		tmpDir    string
		manager   *Manager
		processor *invoice.Processor
		worker    *Worker
		ctx       context.Context
		cancel    context.CancelFunc
		done      chan struct{}
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()

		var err error
		manager, err = NewManager(filepath.Join(tmpDir, "queue.db"), 10, 1)
		Expect(err).NotTo(HaveOccurred())

		processor = invoice.NewProcessor(
			invoice.NewLoader(),
			&mockDetector{detections: detect.Detections{}},
			&mockRecognizer{text: "Счет № 42"},
			nil,
			&mockExtractor{},
			nil,
			nil,
		)
		worker = NewWorker(manager, processor, invoice.Options{})
	})

	JustBeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan struct{})
		go func() {
			defer close(done)
			worker.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, "2s").Should(BeClosed())
		manager.Close()
	})

	When("the task points at a readable image", func() {
		var id string

		BeforeEach(func() {
			path := writeTestImage(tmpDir, "invoice.png")
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, map[string]any{"image_path": path})
			Expect(ok).To(BeTrue())
		})

		It("completes the task with the structured result", func() {
			Eventually(func() Status {
				task, _ := manager.GetTask(id)
				return task.Status
			}, "2s").Should(Equal(StatusCompleted))

			task, _ := manager.GetTask(id)
			Expect(task.Result).To(HaveKey("invoice"))
		})
	})

	When("the task points at a missing image", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, map[string]any{"image_path": filepath.Join(tmpDir, "missing.png")})
			Expect(ok).To(BeTrue())
		})

		It("fails the task through the queue", func() {
			Eventually(func() Status {
				task, _ := manager.GetTask(id)
				return task.Status
			}, "2s").Should(Equal(StatusFailed))

			task, _ := manager.GetTask(id)
			Expect(task.Retries).To(Equal(1))
			Expect(task.Error).To(ContainSubstring("missing.png"))
		})
	})

	When("the task payload has no image path", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, map[string]any{"other": "value"})
			Expect(ok).To(BeTrue())
		})

		It("fails the task without running the pipeline", func() {
			Eventually(func() Status {
				task, _ := manager.GetTask(id)
				return task.Status
			}, "2s").Should(Equal(StatusFailed))

			task, _ := manager.GetTask(id)
			Expect(task.Error).To(ContainSubstring("image_path"))
		})
	})
})
