package shortid_test

import (
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/internal/shortid"
)

var _ = Describe("Generator", func() {
	It("should reject invalid lengths", func() {
		_, err := shortid.New(0)
		Expect(err).To(MatchError(shortid.ErrInvalidLength))

		_, err = shortid.New(shortid.MaxLength + 1)
		Expect(err).To(MatchError(shortid.ErrInvalidLength))
	})

	DescribeTable("should generate base62 ids of the configured length",
		func(length int) {
			gen, err := shortid.New(length)
			Expect(err).NotTo(HaveOccurred())
			Expect(gen.Length()).To(Equal(length))

			id, err := gen.Generate()
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(HaveLen(length))
			Expect(id).To(MatchRegexp(`^[0-9A-Za-z]+$`))
		},
		Entry("single character", 1),
		Entry("default", shortid.DefaultLength),
		Entry("maximum", shortid.MaxLength),
	)

	It("should generate unique ids concurrently", func() {
		gen, err := shortid.New(shortid.DefaultLength)
		Expect(err).NotTo(HaveOccurred())

		const goroutines, perGoroutine = 20, 100

		var (
			wg    sync.WaitGroup
			mutex sync.Mutex
			seen  = make(map[string]struct{}, goroutines*perGoroutine)
		)

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perGoroutine; j++ {
					id, err := gen.Generate()
					if err != nil {
						continue
					}
					mutex.Lock()
					seen[id] = struct{}{}
					mutex.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(seen).To(HaveLen(goroutines * perGoroutine))
	})
})

var _ = Describe("Valid", func() {
	It("accepts generated ids", func() {
		gen, err := shortid.New(shortid.DefaultLength)
		Expect(err).NotTo(HaveOccurred())

		id, err := gen.Generate()
		Expect(err).NotTo(HaveOccurred())
		Expect(shortid.Valid(id)).To(BeTrue())
	})

	DescribeTable("rejects malformed ids",
		func(id string) {
			Expect(shortid.Valid(id)).To(BeFalse())
		},
		Entry("empty", ""),
		Entry("too long", strings.Repeat("a", shortid.MaxLength+1)),
		Entry("punctuation", "abc-123"),
		Entry("path traversal", "../etc"),
		Entry("non ascii", "abcé"),
	)
})
