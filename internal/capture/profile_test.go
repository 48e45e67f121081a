package capture

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Profile", func() {
	Describe("AcceptsAspectRatio", func() {
		It("should accept anything when unconstrained", func() {
			p := Profile{Name: "A4 Document"}
			Expect(p.AcceptsAspectRatio(0.5)).To(BeTrue())
			Expect(p.AcceptsAspectRatio(10)).To(BeTrue())
		})

		It("should treat a zero max as unbounded", func() {
			p := Profile{Name: "Unknown Set", MinAspectRatio: 1}
			Expect(p.AcceptsAspectRatio(1)).To(BeTrue())
			Expect(p.AcceptsAspectRatio(100)).To(BeTrue())
		})

		It("should enforce both bounds", func() {
			p := Profile{Name: "One Business Card", MinAspectRatio: 1.38, MaxAspectRatio: 2.09}
			Expect(p.AcceptsAspectRatio(1.2)).To(BeFalse())
			Expect(p.AcceptsAspectRatio(1.75)).To(BeTrue())
			Expect(p.AcceptsAspectRatio(2.5)).To(BeFalse())
		})
	})

	Describe("Directory", func() {
		It("should derive a directory from the name", func() {
			Expect(Profile{Name: "A4 Document/../x"}.Directory()).To(Equal("A4 Documentx"))
		})

		It("should prefer the configured storage path", func() {
			Expect(Profile{Name: "A4", StoragePath: "docs/a4/"}.Directory()).To(Equal("docs/a4"))
		})
	})

	Describe("Validate", func() {
		It("should accept the default profiles", func() {
			for _, p := range DefaultProfiles() {
				Expect(p.Validate()).To(Succeed())
			}
		})

		It("should reject an empty name", func() {
			Expect(Profile{}.Validate()).To(HaveOccurred())
		})

		It("should reject inverted aspect ratios", func() {
			Expect(Profile{Name: "x", MinAspectRatio: 3, MaxAspectRatio: 2}.Validate()).To(HaveOccurred())
		})

		It("should reject storage paths outside the storage directory", func() {
			Expect(Profile{Name: "x", StoragePath: "../elsewhere"}.Validate()).To(HaveOccurred())
			Expect(Profile{Name: "x", StoragePath: "/tmp"}.Validate()).To(HaveOccurred())
		})

		It("should reject reserved storage paths", func() {
			Expect(Profile{Name: "x", StoragePath: PageDirectory}.Validate()).To(HaveOccurred())
			Expect(Profile{Name: "x", StoragePath: "."}.Validate()).To(HaveOccurred())
			Expect(Profile{Name: "x", StoragePath: ".hidden/docs"}.Validate()).To(HaveOccurred())
		})

		It("should keep derived directories out of the page directory", func() {
			p := Profile{Name: ".pages"}
			Expect(p.Validate()).To(Succeed())
			Expect(p.Directory()).To(Equal("pages"))
			Expect(p.Directory()).NotTo(Equal(PageDirectory))
		})

		It("should reject unknown document sizes", func() {
			Expect(Profile{Name: "x", DocumentSize: "poster"}.Validate()).To(HaveOccurred())
		})
	})

	Describe("DocumentSize.Points", func() {
		It("should return portrait A4", func() {
			w, h, ok := SizeA4.Points()
			Expect(ok).To(BeTrue())
			Expect(w).To(BeNumerically("<", h))
		})

		It("should have no size for any", func() {
			_, _, ok := SizeAny.Points()
			Expect(ok).To(BeFalse())
		})
	})
})
