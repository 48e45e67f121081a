package engine

import (
	"image"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("parseQualityJSON", func() {
	var (
		jsonInput string
		blocks    []Block
		err       error
	)

	JustBeforeEach(func() {
		blocks, err = parseQualityJSON(jsonInput)
	})

	When("parsing valid JSON", func() {
		BeforeEach(func() {
			jsonInput = `{"blocks": [{"type": "text", "x": 10, "y": 20, "width": 100, "height": 50, "quality": 87},
				{"type": "picture", "x": 0, "y": 100, "width": 40, "height": 40, "quality": 10}]}`
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse every block", func() {
			Expect(blocks).To(HaveLen(2))
		})

		It("should convert coordinates to a rectangle", func() {
			Expect(blocks[0].Rect).To(Equal(image.Rect(10, 20, 110, 70)))
		})

		It("should keep the quality", func() {
			Expect(blocks[0].Quality).To(Equal(87))
		})

		It("should map non-text blocks to unknown", func() {
			Expect(blocks[0].Type).To(Equal(TextBlock))
			Expect(blocks[1].Type).To(Equal(UnknownBlock))
		})
	})

	When("parsing JSON with markdown code blocks", func() {
		BeforeEach(func() {
			jsonInput = "```json\n{\"blocks\": [{\"type\": \"text\", \"x\": 1, \"y\": 1, \"width\": 2, \"height\": 2, \"quality\": 50}]}\n```"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the block", func() {
			Expect(blocks).To(HaveLen(1))
		})
	})

	When("quality is out of range", func() {
		BeforeEach(func() {
			jsonInput = `{"blocks": [{"type": "text", "x": 0, "y": 0, "width": 5, "height": 5, "quality": 250},
				{"type": "text", "x": 0, "y": 0, "width": 5, "height": 5, "quality": -3}]}`
		})

		It("should clamp the quality", func() {
			Expect(blocks[0].Quality).To(Equal(100))
			Expect(blocks[1].Quality).To(Equal(0))
		})
	})

	When("a block has no area", func() {
		BeforeEach(func() {
			jsonInput = `{"blocks": [{"type": "text", "x": 0, "y": 0, "width": 0, "height": 5, "quality": 50}]}`
		})

		It("should skip it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(blocks).To(BeEmpty())
		})
	})

	When("parsing invalid JSON", func() {
		BeforeEach(func() {
			jsonInput = `invalid json`
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("stripCodeFences", func() {
	It("should remove fences around text", func() {
		Expect(stripCodeFences("```text\nhello\n```")).To(Equal("hello"))
	})

	It("should leave plain text alone", func() {
		Expect(stripCodeFences("  hello world ")).To(Equal("hello world"))
	})
})
