package llmgateway_test

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"toolmesh.dev/engine/internal/llmgateway"
)

func TestLLMGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLMGateway Suite")
}

var _ = Describe("SanitizeName", func() {
	DescribeTable("sanitizes names for the OpenAI name parameter",
		func(input, expected string) {
			Expect(llmgateway.SanitizeName(input)).To(Equal(expected))
		},
		Entry("valid name unchanged", "alice", "alice"),
		Entry("dots replaced with underscore", "alice.smith", "alice_smith"),
		Entry("@ replaced with underscore", "alice@dev", "alice_dev"),
		Entry("hyphens preserved", "alice-dev", "alice-dev"),
		Entry("long name truncated to 64 chars", strings.Repeat("a", 100), strings.Repeat("a", 64)),
		Entry("empty string unchanged", "", ""),
	)
})

var _ = Describe("ParseToolArguments", func() {
	type args struct {
		City string `json:"city"`
	}

	It("unmarshals well-formed JSON", func() {
		parsed, err := llmgateway.ParseToolArguments[args](`{"city":"武汉"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed.City).To(Equal("武汉"))
	})

	It("returns an error for malformed JSON", func() {
		_, err := llmgateway.ParseToolArguments[args](`not json`)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("New", func() {
	It("rejects an empty API key", func() {
		_, err := llmgateway.New(llmgateway.Config{Provider: "openai"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown provider", func() {
		_, err := llmgateway.New(llmgateway.Config{Provider: "bedrock", APIKey: "k"})
		Expect(err).To(HaveOccurred())
	})
})
