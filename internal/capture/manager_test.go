package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/mobile-capture/internal/dispatch"
	"github.com/zombor/mobile-capture/internal/imaging"
)

var _ = Describe("Manager", func() {
	var (
		storagePath string
		queue       *dispatch.Queue
		opts        []Option
		manager     *Manager
	)

	BeforeEach(func() {
		storagePath = filepath.Join(GinkgoT().TempDir(), "documents")
		queue = dispatch.NewQueue()
		opts = []Option{WithTimeSource(&mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})}
	})

	JustBeforeEach(func() {
		var err error
		manager, err = NewManager(storagePath, DefaultProfiles(), queue, opts...)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		queue.Close()
	})

	Describe("NewManager", func() {
		It("should create the storage directory", func() {
			Expect(storagePath).To(BeADirectory())
		})

		It("should reject an empty storage path", func() {
			_, err := NewManager("", DefaultProfiles(), queue)
			Expect(err).To(HaveOccurred())
		})

		It("should reject duplicate profiles", func() {
			profiles := append(DefaultProfiles(), Profile{Name: "A4 Document"})
			_, err := NewManager(storagePath, profiles, queue)
			Expect(err).To(MatchError(ContainSubstring("duplicate profile")))
		})

		It("should reject invalid profiles", func() {
			_, err := NewManager(storagePath, []Profile{{Name: ""}}, queue)
			Expect(err).To(HaveOccurred())
		})

		It("should return a copy of the profiles", func() {
			profiles := manager.Profiles()
			profiles[0].Name = "changed"
			_, ok := manager.Profile("changed")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("PDFPath", func() {
		It("should place the file in the profile directory", func() {
			path, err := manager.PDFPath(&fakeResult{id: "capture-1", profile: "A4 Document"})
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join(storagePath, "A4 Document", "capture-1.pdf")))
		})

		It("returns ErrUnknownProfile for unknown profiles", func() {
			_, err := manager.PDFPath(&fakeResult{id: "capture-1", profile: "Passport"})
			Expect(err).To(MatchError(ErrUnknownProfile))
		})
	})

	Describe("GeneratePDF", func() {
		var (
			result   *fakeResult
			statuses []ExportStatus
			path     string
			err      error
		)

		BeforeEach(func() {
			statuses = nil
			result = &fakeResult{
				id:      "capture-1",
				profile: "A4 Document",
				images:  []image.Image{testImage(40, 60), testImage(60, 40), testImage(30, 30)},
			}
		})

		JustBeforeEach(func() {
			path, err = manager.GeneratePDF(context.Background(), result, func(s ExportStatus) {
				statuses = append(statuses, s)
			})
		})

		When("every page loads", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should write one page per image", func() {
				Expect(path).To(BeAnExistingFile())
				count, countErr := imaging.PDFPageCount(path)
				Expect(countErr).NotTo(HaveOccurred())
				Expect(count).To(Equal(3))
			})

			It("should report fetching and writing for every page", func() {
				Expect(statuses).To(Equal([]ExportStatus{
					{PagesProcessed: 0, PagesCount: 3, Action: ActionFetching},
					{PagesProcessed: 0, PagesCount: 3, Action: ActionWriting},
					{PagesProcessed: 1, PagesCount: 3, Action: ActionFetching},
					{PagesProcessed: 1, PagesCount: 3, Action: ActionWriting},
					{PagesProcessed: 2, PagesCount: 3, Action: ActionFetching},
					{PagesProcessed: 2, PagesCount: 3, Action: ActionWriting},
				}))
			})

			It("should not leave temp files", func() {
				entries, readErr := os.ReadDir(filepath.Dir(path))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(1))
			})
		})

		When("pages are sized to the image", func() {
			BeforeEach(func() {
				opts = append(opts, WithPageSizing(SizeToImage), WithMaxPageDimension(50))
			})

			It("should still write every page", func() {
				Expect(err).NotTo(HaveOccurred())
				count, countErr := imaging.PDFPageCount(path)
				Expect(countErr).NotTo(HaveOccurred())
				Expect(count).To(Equal(3))
			})
		})

		When("the result has no pages", func() {
			BeforeEach(func() {
				result.images = nil
			})

			It("returns ErrNoPages", func() {
				Expect(err).To(MatchError(ErrNoPages))
			})
		})

		When("listing pages fails", func() {
			BeforeEach(func() {
				result.pagesErr = errors.New("pages error")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(result.pagesErr))
			})
		})

		When("a page fails to load", func() {
			BeforeEach(func() {
				result.loadErr = errors.New("load error")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(result.loadErr))
			})

			It("should not write a file", func() {
				Expect(filepath.Join(storagePath, "A4 Document", "capture-1.pdf")).NotTo(BeAnExistingFile())
			})
		})

		When("the written page count does not match", func() {
			BeforeEach(func() {
				opts = append(opts, WithPageCounter(func(string) (int, error) { return 2, nil }))
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("wrote 2 pages, want 3")))
			})

			It("should remove the partial file", func() {
				entries, readErr := os.ReadDir(filepath.Join(storagePath, "A4 Document"))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(entries).To(BeEmpty())
			})
		})

		When("the profile is unknown", func() {
			BeforeEach(func() {
				result.profile = "Passport"
			})

			It("returns ErrUnknownProfile", func() {
				Expect(err).To(MatchError(ErrUnknownProfile))
			})
		})
	})

	Describe("GeneratePDF while a generation is running", func() {
		It("returns ErrGenerationInProgress", func() {
			result := &fakeResult{
				id:      "capture-1",
				profile: "A4 Document",
				images:  []image.Image{testImage(10, 10)},
				loading: make(chan struct{}, 1),
				release: make(chan struct{}),
			}

			firstErr := make(chan error, 1)
			go func() {
				_, err := manager.GeneratePDF(context.Background(), result, nil)
				firstErr <- err
			}()
			Eventually(result.loading).Should(Receive())

			_, err := manager.GeneratePDF(context.Background(), result, nil)
			Expect(err).To(MatchError(ErrGenerationInProgress))

			close(result.release)
			Eventually(firstErr).Should(Receive(BeNil()))
		})
	})

	Describe("GeneratePdfForCaptureResult", func() {
		It("should deliver progress and then exactly one completion on the queue", func() {
			result := &fakeResult{
				id:      "capture-2",
				profile: "One Business Card",
				images:  []image.Image{testImage(70, 40)},
			}

			var (
				mu            sync.Mutex
				events        []string
				completionErr error
				completed     = make(chan string, 2)
			)
			manager.GeneratePdfForCaptureResult(result,
				func(s ExportStatus) {
					mu.Lock()
					defer mu.Unlock()
					events = append(events, string(s.Action))
				},
				func(path string, err error) {
					mu.Lock()
					events = append(events, "done")
					completionErr = err
					mu.Unlock()
					completed <- path
				})

			var path string
			Eventually(completed).Should(Receive(&path))
			Consistently(completed, 100*time.Millisecond).ShouldNot(Receive())
			Expect(path).To(BeAnExistingFile())

			mu.Lock()
			defer mu.Unlock()
			Expect(completionErr).NotTo(HaveOccurred())
			Expect(events).To(Equal([]string{"fetching", "writing", "done"}))
		})

		It("should deliver the error to the completion", func() {
			result := &fakeResult{id: "capture-3", profile: "A4 Document"}
			errs := make(chan error, 1)
			manager.GeneratePdfForCaptureResult(result, nil, func(_ string, err error) {
				errs <- err
			})
			Eventually(errs).Should(Receive(MatchError(ErrNoPages)))
		})

		It("should still complete when the queue has been closed", func() {
			queue.Close()
			result := &fakeResult{id: "capture-4", profile: "A4 Document"}
			errs := make(chan error, 1)
			manager.GeneratePdfForCaptureResult(result, nil, func(_ string, err error) {
				errs <- err
			})
			Eventually(errs).Should(Receive(MatchError(ErrNoPages)))
		})
	})
})
