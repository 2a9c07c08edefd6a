// Command convergio wires the orchestration core's components together and
// runs a single demo request end to end, the way cmd/demo does for the
// teacher's minimal agent runtime.
package main

import (
	"context"
	"fmt"

	"goa.design/convergio/internal/bus"
	"goa.design/convergio/internal/cost"
	"goa.design/convergio/internal/decomposer"
	"goa.design/convergio/internal/guardrails"
	"goa.design/convergio/internal/llm"
	"goa.design/convergio/internal/orchestrator"
	"goa.design/convergio/internal/planstore"
	"goa.design/convergio/internal/registry"
	"goa.design/convergio/internal/workflow/engine/inmem"
	"goa.design/convergio/internal/workflow/graph"
)

// echoTools is a tool registry with no tools; the demo request never
// triggers tool use.
type echoTools struct{}

func (echoTools) Manifest() []llm.ToolDefinition { return nil }
func (echoTools) Execute(context.Context, llm.ToolCall) (string, error) {
	return "", fmt.Errorf("no tools registered")
}

// localResponder answers every chat call with a canned response: for the
// chief's first round it delegates to two specialists, a specialist's call
// gets a one-line specialist reply, and anything else gets a short
// synthesized reply. A real deployment swaps this for
// llm.NewAnthropic/NewOpenAI/NewBedrock.
func localResponder(_ context.Context, req llm.Request) (string, error) {
	last := req.Messages[len(req.Messages)-1].Text
	if last == orchestrator.AssemblePrompt(orchestrator.PromptInputs{UserInput: "Analyze plan."}) {
		return "Analyze plan.\n[DELEGATE: baccio] architecture review\n[DELEGATE: luca] security review", nil
	}
	if len(req.Messages) == 1 && req.System == orchestrator.Constitution {
		return "specialist response for: " + last, nil
	}
	return "synthesized answer", nil
}

func main() {
	ctx := context.Background()

	store, err := planstore.Open(ctx, ":memory:")
	if err != nil {
		panic(err)
	}
	defer func() { _ = store.Close() }()

	reg := registry.New()

	defStore, closeDefStore, err := configureDefinitionStore(ctx)
	if err != nil {
		panic(err)
	}
	defer closeDefStore()
	if defStore != nil {
		if _, err := reg.LoadFromStore(ctx, defStore); err != nil {
			panic(err)
		}
	}

	chief, err := reg.Spawn(ctx, registry.RoleOrchestrator, "chief", "")
	if err != nil {
		panic(err)
	}

	b := bus.New(bus.WithActiveAgents(reg.ActiveIDs))
	cc := cost.New(0, cost.WithDailyStore(store))

	provider, err := llm.NewLocal(localResponder)
	if err != nil {
		panic(err)
	}

	orch := orchestrator.New(provider, "local-demo", echoTools{}, reg, b, cc, chief.ID,
		orchestrator.WithWorkspacePath("."),
		orchestrator.WithVersion("0.1.0"),
	)

	answer, err := orch.ProcessRequest(ctx, "demo-session", orchestrator.PromptInputs{
		UserInput: "Analyze plan.",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("Orchestrator:", answer)
	fmt.Println(cc.Report(true))

	runDemoWorkflow(ctx, store)
	runDemoDecomposition(ctx, reg, provider, cc)

	verdict, allowed := guardrails.New(nil).Check("demo-operation", answer, guardrails.NewFlags())
	fmt.Println("Guardrails verdict:", verdict, "allowed:", allowed)
}

// runDemoWorkflow builds a two-node linear workflow and runs it to
// completion via the in-memory engine, demonstrating C6/C7.
func runDemoWorkflow(ctx context.Context, store *planstore.Store) {
	wf := graph.NewWorkflow("demo-workflow")
	draft, _ := wf.AddNode(graph.Node{Name: "Draft", Type: graph.NodeAction, ActionPrompt: "draft the plan"})
	review, _ := wf.AddNode(graph.Node{Name: "Review", Type: graph.NodeAction, ActionPrompt: "review the plan"})
	wf.Nodes[draft].NextNodes = []int{review}
	if err := wf.SetEntry(draft); err != nil {
		panic(err)
	}

	executor := stubNodeExecutor{}
	eng := inmem.New(executor, store)
	inst, err := eng.Start(ctx, "demo-run-1", wf, "kickoff")
	if err != nil {
		panic(err)
	}
	fmt.Println("Workflow status:", inst.Status)
	fmt.Println(wf.ExportMermaid())
}

type stubNodeExecutor struct{}

func (stubNodeExecutor) ExecuteAction(_ context.Context, node graph.Node, carried string) (string, error) {
	return node.Name + " done (" + carried + ")", nil
}

// runDemoDecomposition parses a literal task-graph JSON blob, validates it's
// a DAG, sorts it, and executes it wave by wave, demonstrating C9.
func runDemoDecomposition(ctx context.Context, reg *registry.Registry, provider llm.Provider, cc *cost.Controller) {
	raw := []byte(`{"tasks":[
		{"description":"design the API","role":"planner","prerequisites":[],"validation":"design doc exists"},
		{"description":"implement the API","role":"coder","prerequisites":[0],"validation":"tests pass"}
	]}`)
	tasks, err := decomposer.ParseLLMOutput(raw)
	if err != nil {
		panic(err)
	}
	if err := decomposer.ResolveDependencies(tasks); err != nil {
		panic(err)
	}
	order, err := decomposer.TopologicalSort(tasks)
	if err != nil {
		panic(err)
	}
	fmt.Println("Decomposition order:", order)

	exec := &decomposer.DefaultExecutor{Registry: reg, Provider: provider, Cost: cc, Model: "local-demo"}
	if err := decomposer.ExecuteParallel(ctx, tasks, exec); err != nil {
		panic(err)
	}
	for _, t := range tasks {
		fmt.Printf("task %d: %s\n", t.ID, t.Status)
	}
}
