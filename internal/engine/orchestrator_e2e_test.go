package engine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"toolmesh.dev/engine/internal/engine"
	"toolmesh.dev/engine/internal/testtool"
)

var _ = Describe("Orchestrator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("a trivial chat query with no tool-calling system prompt", func() {
		It("streams a plain completion without touching the plan builder or scheduler", func() {
			fakeGateway := testtool.NewFakeGateway("hello there, friend")
			orchestrator := engine.NewOrchestrator(fakeGateway, nil, nil, nil, nil, func() []engine.ToolDescriptor { return nil })

			events, err := orchestrator.Run(ctx, engine.RunRequest{
				Query:        "hi",
				SystemPrompt: "You are a friendly general-purpose assistant.",
				Temperature:  0.7,
			})
			Expect(err).NotTo(HaveOccurred())

			var collected string
			for ev := range events {
				Expect(ev.Kind).NotTo(Equal(engine.EventError))
				if ev.Kind == engine.EventFinalChunk && ev.FinalSummary != nil {
					collected += *ev.FinalSummary
				}
			}

			Expect(collected).To(Equal("hello there, friend"))
		})
	})

	Describe("a single tool-calling query", func() {
		It("runs the plan and streams a final answer grounded in the tool result", func() {
			registry := testtool.NewRegistry()
			registry.RegisterConstant("get_weather", "sunny, 24C in 武汉", nil)

			planBuilder := engine.NewPlanBuilder(
				testtool.NewFakeGateway(
					`["get_weather"]`,
					`{"steps":[{"step_id":"s1","tool_name":"get_weather","tool_args":{"city":"武汉"}}]}`,
				),
				nil,
			)

			assessorGateway := testtool.NewFakeGateway(
				`{"satisfaction_level":"全部","confidence":0.9,"reason":"done","problem_solved":true,"need_more_tools":false,"next_tool_suggestion":""}`,
				`{"problem_solved":true,"solution_level":"已解决","confidence":0.9,"reason":"done","need_more_tools":false,"generate_final":true,"remaining_tasks":[]}`,
			)
			resolver := engine.NewPlaceholderResolver(assessorGateway)
			assessor := engine.NewAssessor(assessorGateway)
			poller := engine.NewPollingDriver(registry, assessorGateway, engine.DefaultMaxIterations)
			scheduler := engine.NewScheduler(registry, resolver, assessor, poller, assessorGateway)

			finalGateway := testtool.NewFakeGateway("it is sunny and 24C in 武汉")
			finalAnswer := engine.NewFinalAnswerGenerator(finalGateway)

			classifyGateway := testtool.NewFakeGateway("需要")

			orchestrator := engine.NewOrchestrator(classifyGateway, planBuilder, scheduler, finalAnswer, nil, func() []engine.ToolDescriptor {
				return []engine.ToolDescriptor{{Name: "get_weather", Description: "fetch current weather"}}
			})

			events, err := orchestrator.Run(ctx, engine.RunRequest{
				Query:        "what's the weather in 武汉",
				SystemPrompt: "You are a tool-calling assistant.",
				Temperature:  0.5,
			})
			Expect(err).NotTo(HaveOccurred())

			var collected string
			for ev := range events {
				Expect(ev.Kind).NotTo(Equal(engine.EventError))
				if ev.Kind == engine.EventFinalChunk && ev.FinalSummary != nil {
					collected += *ev.FinalSummary
				}
			}

			Expect(collected).To(Equal("it is sunny and 24C in 武汉"))
			Expect(registry.CallCount("get_weather")).To(Equal(1))
		})
	})
})
