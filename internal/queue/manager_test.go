package queue

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestQueue(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var _ = Describe("Manager", func() {
	var (
		dbPath  string
		timeSrc *mockTimeSource
		manager *Manager
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "queue.db")
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		var err error
		manager, err = NewManagerWithDeps(dbPath, 5, 3, timeSrc)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		manager.Close()
	})

	Describe("AddTask", func() {
		var (
			id string
			ok bool
		)

		JustBeforeEach(func() {
			id, ok = manager.AddTask(TypeInvoice, map[string]any{"image_path": "a.jpg"})
		})

		When("the queue has capacity", func() {
			It("should accept the task", func() {
				Expect(ok).To(BeTrue())
			})

			It("should derive the id from type, timestamp and counter", func() {
				expected := fmt.Sprintf("invoice_%d_0", timeSrc.now.Unix())
				Expect(id).To(Equal(expected))
			})

			It("should store the task as pending", func() {
				task, found := manager.GetTask(id)
				Expect(found).To(BeTrue())
				Expect(task.Status).To(Equal(StatusPending))
				Expect(task.Payload).To(HaveKeyWithValue("image_path", "a.jpg"))
			})

			It("should count the task in the totals", func() {
				Expect(manager.GetQueueStats().Total).To(Equal(1))
			})
		})

		When("the queue is full", func() {
			BeforeEach(func() {
				for i := 0; i < 5; i++ {
					_, added := manager.AddTask(TypeInvoice, nil)
					Expect(added).To(BeTrue())
				}
			})

			It("rejects the task", func() {
				Expect(ok).To(BeFalse())
				Expect(id).To(BeEmpty())
			})
		})

		When("the queue is full of terminal tasks", func() {
			BeforeEach(func() {
				for i := 0; i < 5; i++ {
					taskID, added := manager.AddTask(TypeInvoice, nil)
					Expect(added).To(BeTrue())
					Expect(manager.CompleteTask(taskID, nil)).To(BeTrue())
				}
			})

			It("accepts the task because only live tasks count", func() {
				Expect(ok).To(BeTrue())
			})
		})
	})

	Describe("ClaimTask", func() {
		When("pending tasks exist", func() {
			var first, second string

			BeforeEach(func() {
				var ok bool
				first, ok = manager.AddTask(TypeInvoice, nil)
				Expect(ok).To(BeTrue())
				second, ok = manager.AddTask(TypeInvoice, nil)
				Expect(ok).To(BeTrue())
			})

			It("claims the oldest pending task first", func() {
				task, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeTrue())
				Expect(task.ID).To(Equal(first))
				Expect(task.Status).To(Equal(StatusProcessing))
			})

			It("never hands the same task to two claimers", func() {
				a, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeTrue())
				b, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeTrue())
				Expect(a.ID).NotTo(Equal(b.ID))
				Expect(b.ID).To(Equal(second))
			})

			It("reports no work once everything is claimed", func() {
				_, _ = manager.ClaimTask(TypeInvoice)
				_, _ = manager.ClaimTask(TypeInvoice)
				_, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeFalse())
			})
		})

		When("only tasks of other types are pending", func() {
			BeforeEach(func() {
				_, ok := manager.AddTask(TypeMetrics, nil)
				Expect(ok).To(BeTrue())
			})

			It("does not claim them", func() {
				_, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeFalse())
			})

			It("claims them when no type filter is given", func() {
				task, ok := manager.ClaimTask()
				Expect(ok).To(BeTrue())
				Expect(task.Type).To(Equal(TypeMetrics))
			})
		})
	})

	Describe("CompleteTask", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			_, claimed := manager.ClaimTask(TypeInvoice)
			Expect(claimed).To(BeTrue())
		})

		It("moves the task to completed with its result", func() {
			Expect(manager.CompleteTask(id, map[string]any{"pages": 1})).To(BeTrue())

			task, found := manager.GetTask(id)
			Expect(found).To(BeTrue())
			Expect(task.Status).To(Equal(StatusCompleted))
			Expect(task.Result).To(HaveKey("pages"))
		})

		It("increments the completed counter", func() {
			manager.CompleteTask(id, nil)
			Expect(manager.GetQueueStats().Completed).To(Equal(1))
		})

		It("rejects a second completion", func() {
			Expect(manager.CompleteTask(id, nil)).To(BeTrue())
			Expect(manager.CompleteTask(id, nil)).To(BeFalse())
		})

		It("rejects unknown ids", func() {
			Expect(manager.CompleteTask("nonexistent", nil)).To(BeFalse())
		})
	})

	Describe("FailTask", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
		})

		When("retries remain", func() {
			JustBeforeEach(func() {
				_, claimed := manager.ClaimTask(TypeInvoice)
				Expect(claimed).To(BeTrue())
				Expect(manager.FailTask(id, "boom")).To(BeTrue())
			})

			It("returns the task to pending", func() {
				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusPending))
				Expect(task.Retries).To(Equal(1))
				Expect(task.Error).To(Equal("boom"))
			})

			It("counts the retry", func() {
				Expect(manager.GetQueueStats().Retries).To(Equal(1))
			})
		})

		When("the retry budget is exhausted", func() {
			JustBeforeEach(func() {
				for i := 0; i < 3; i++ {
					_, claimed := manager.ClaimTask(TypeInvoice)
					Expect(claimed).To(BeTrue())
					Expect(manager.FailTask(id, "boom")).To(BeTrue())
				}
			})

			It("moves the task to failed with the retry count preserved", func() {
				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusFailed))
				Expect(task.Retries).To(Equal(3))
			})

			It("counts the permanent failure", func() {
				stats := manager.GetQueueStats()
				Expect(stats.Failed).To(Equal(1))
				Expect(stats.Retries).To(Equal(2))
			})

			It("rejects further failure reports", func() {
				Expect(manager.FailTask(id, "again")).To(BeFalse())
			})
		})
	})

	Describe("UpdateTask", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
		})

		It("overwrites status, result and error", func() {
			Expect(manager.UpdateTask(id, StatusProcessing, map[string]any{"x": 1}, "")).To(BeTrue())

			task, _ := manager.GetTask(id)
			Expect(task.Status).To(Equal(StatusProcessing))
			Expect(task.Result).To(HaveKey("x"))
		})

		It("never updates a terminal task", func() {
			Expect(manager.CompleteTask(id, nil)).To(BeTrue())
			Expect(manager.UpdateTask(id, StatusPending, nil, "")).To(BeFalse())
		})
	})

	Describe("CleanupTasks", func() {
		var liveID, doneID string

		BeforeEach(func() {
			var ok bool
			liveID, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			doneID, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			Expect(manager.CompleteTask(doneID, nil)).To(BeTrue())

			// Everything above is now a day old.
			timeSrc.now = timeSrc.now.Add(24 * time.Hour)
		})

		It("removes old terminal tasks", func() {
			Expect(manager.CleanupTasks(time.Hour)).To(Equal(1))
			_, found := manager.GetTask(doneID)
			Expect(found).To(BeFalse())
		})

		It("never removes live tasks regardless of age", func() {
			manager.CleanupTasks(time.Hour)
			_, found := manager.GetTask(liveID)
			Expect(found).To(BeTrue())
		})

		It("keeps terminal tasks younger than the cutoff", func() {
			Expect(manager.CleanupTasks(48 * time.Hour)).To(Equal(0))
		})
	})

	Describe("GetPendingTasks", func() {
		BeforeEach(func() {
			for i := 0; i < 3; i++ {
				_, ok := manager.AddTask(TypeInvoice, nil)
				Expect(ok).To(BeTrue())
			}
			claimed, ok := manager.ClaimTask(TypeInvoice)
			Expect(ok).To(BeTrue())
			Expect(manager.CompleteTask(claimed.ID, nil)).To(BeTrue())
		})

		It("returns only pending tasks, oldest first", func() {
			pending := manager.GetPendingTasks(TypeInvoice)
			Expect(pending).To(HaveLen(2))
			Expect(pending[0].ID < pending[1].ID).To(BeTrue())
		})
	})

	Describe("GetStats", func() {
		BeforeEach(func() {
			invoiceID, _ := manager.AddTask(TypeInvoice, nil)
			_, _ = manager.AddTask(TypeMetrics, nil)
			_, claimed := manager.ClaimTask(TypeInvoice)
			Expect(claimed).To(BeTrue())
			Expect(manager.CompleteTask(invoiceID, nil)).To(BeTrue())
		})

		It("breaks counts down by type and status", func() {
			stats := manager.GetStats()
			Expect(stats.Total).To(Equal(2))
			Expect(stats.Completed).To(Equal(1))
			Expect(stats.Pending).To(Equal(1))
			Expect(stats.ByType[TypeInvoice].Completed).To(Equal(1))
			Expect(stats.ByType[TypeMetrics].Pending).To(Equal(1))
		})
	})

	Describe("RemoveTask", func() {
		It("deletes a task in any state", func() {
			id, ok := manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())

			Expect(manager.RemoveTask(id)).To(BeTrue())
			_, found := manager.GetTask(id)
			Expect(found).To(BeFalse())
		})

		It("reports unknown ids", func() {
			Expect(manager.RemoveTask("nonexistent")).To(BeFalse())
		})
	})

	Describe("ClearQueue", func() {
		BeforeEach(func() {
			_, ok := manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
		})

		It("removes all tasks and resets the stats", func() {
			Expect(manager.ClearQueue()).To(BeTrue())
			Expect(manager.GetPendingTasks()).To(BeEmpty())
			Expect(manager.GetQueueStats().Total).To(Equal(0))
		})
	})

	Describe("restart recovery", func() {
		var pendingID, completedID string

		BeforeEach(func() {
			var ok bool
			pendingID, ok = manager.AddTask(TypeInvoice, map[string]any{"image_path": "a.jpg"})
			Expect(ok).To(BeTrue())
			completedID, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			Expect(manager.CompleteTask(completedID, nil)).To(BeTrue())

			Expect(manager.Close()).To(Succeed())

			var err error
			manager, err = NewManagerWithDeps(dbPath, 5, 3, timeSrc)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rebuilds the task table from the database", func() {
			task, found := manager.GetTask(pendingID)
			Expect(found).To(BeTrue())
			Expect(task.Status).To(Equal(StatusPending))
			Expect(task.Payload).To(HaveKeyWithValue("image_path", "a.jpg"))

			done, found := manager.GetTask(completedID)
			Expect(found).To(BeTrue())
			Expect(done.Status).To(Equal(StatusCompleted))
		})

		It("restores the aggregate counters", func() {
			stats := manager.GetQueueStats()
			Expect(stats.Total).To(Equal(2))
			Expect(stats.Completed).To(Equal(1))
		})

		It("keeps pending work claimable", func() {
			task, ok := manager.ClaimTask(TypeInvoice)
			Expect(ok).To(BeTrue())
			Expect(task.ID).To(Equal(pendingID))
		})
	})

	Describe("id allocation after restart", func() {
		var survivor string

		BeforeEach(func() {
			removed, ok := manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			survivor, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			Expect(manager.RemoveTask(removed)).To(BeTrue())

			Expect(manager.Close()).To(Succeed())
			var err error
			manager, err = NewManagerWithDeps(dbPath, 5, 3, timeSrc)
			Expect(err).NotTo(HaveOccurred())
		})

		It("never reissues a surviving task's id", func() {
			id, ok := manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(fmt.Sprintf("invoice_%d_2", timeSrc.now.Unix())))

			task, found := manager.GetTask(survivor)
			Expect(found).To(BeTrue())
			Expect(task.Status).To(Equal(StatusPending))
		})
	})

	Describe("write failures", func() {
		var id string

		BeforeEach(func() {
			var ok bool
			id, ok = manager.AddTask(TypeInvoice, nil)
			Expect(ok).To(BeTrue())
		})

		When("the store rejects a claim", func() {
			BeforeEach(func() {
				Expect(manager.Close()).To(Succeed())
				timeSrc.now = timeSrc.now.Add(time.Minute)
			})

			It("leaves the task pending and untouched", func() {
				_, ok := manager.ClaimTask(TypeInvoice)
				Expect(ok).To(BeFalse())

				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusPending))
				Expect(task.UpdatedAt).To(Equal(task.CreatedAt))
			})
		})

		When("the store rejects a completion", func() {
			BeforeEach(func() {
				_, claimed := manager.ClaimTask(TypeInvoice)
				Expect(claimed).To(BeTrue())
				Expect(manager.Close()).To(Succeed())
			})

			It("keeps the task processing with no result", func() {
				Expect(manager.CompleteTask(id, map[string]any{"pages": 1})).To(BeFalse())

				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusProcessing))
				Expect(task.Result).To(BeNil())
				Expect(manager.GetQueueStats().Completed).To(Equal(0))
			})
		})

		When("the store rejects a failure report", func() {
			BeforeEach(func() {
				_, claimed := manager.ClaimTask(TypeInvoice)
				Expect(claimed).To(BeTrue())
				Expect(manager.Close()).To(Succeed())
			})

			It("keeps the retry counter and status unchanged", func() {
				Expect(manager.FailTask(id, "boom")).To(BeFalse())

				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusProcessing))
				Expect(task.Retries).To(Equal(0))
				Expect(task.Error).To(BeEmpty())

				stats := manager.GetQueueStats()
				Expect(stats.Retries).To(Equal(0))
				Expect(stats.Failed).To(Equal(0))
			})
		})

		When("the store rejects an update", func() {
			BeforeEach(func() {
				Expect(manager.Close()).To(Succeed())
			})

			It("leaves the task as it was", func() {
				Expect(manager.UpdateTask(id, StatusProcessing, map[string]any{"x": 1}, "")).To(BeFalse())

				task, _ := manager.GetTask(id)
				Expect(task.Status).To(Equal(StatusPending))
				Expect(task.Result).To(BeNil())
			})
		})
	})
})
