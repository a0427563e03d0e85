package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oarkflow/abac"
	"github.com/oarkflow/abac/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("abac-policy - Policy directory tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  abac-policy validate <dir>          - Parse every policy document, report errors")
	fmt.Println("  abac-policy stats <dir>             - Show policy set statistics")
	fmt.Println("  abac-policy check <dir> <req.json>  - Evaluate a request document offline")
}

func loadStore(dir string) (*abac.PolicyStore, int, []*abac.PolicyLoadError) {
	store := abac.NewPolicyStore(logger.NewPhusluLogger())
	count, errs := store.Load(dir)
	return store, count, errs
}

func handleValidate() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	_, count, errs := loadStore(os.Args[2])
	fmt.Printf("Loaded %d policies\n", count)
	for _, e := range errs {
		fmt.Printf("  error: %v\n", e)
	}
	if len(errs) > 0 {
		os.Exit(1)
	}
}

func handleStats() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}
	store, count, errs := loadStore(os.Args[2])
	permits, denies, conditioned := 0, 0, 0
	for _, p := range store.All() {
		if p.Effect == abac.EffectDeny {
			denies++
		} else {
			permits++
		}
		if p.Condition != nil {
			conditioned++
		}
	}
	fmt.Printf("Policies:    %d (%d skipped)\n", count, len(errs))
	fmt.Printf("Permit:      %d\n", permits)
	fmt.Printf("Deny:        %d\n", denies)
	fmt.Printf("Conditioned: %d\n", conditioned)
}

type requestDoc struct {
	Subject  map[string]any `json:"subject"`
	Resource map[string]any `json:"resource"`
	Action   map[string]any `json:"action"`
	Context  map[string]any `json:"context"`
}

func handleCheck() {
	if len(os.Args) < 4 {
		printUsage()
		os.Exit(1)
	}
	store, _, errs := loadStore(os.Args[2])
	for _, e := range errs {
		fmt.Printf("  warning: %v\n", e)
	}

	data, err := os.ReadFile(os.Args[3])
	if err != nil {
		fmt.Printf("read request: %v\n", err)
		os.Exit(1)
	}
	var doc requestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Printf("parse request: %v\n", err)
		os.Exit(1)
	}

	engine, err := abac.NewEngine(store)
	if err != nil {
		fmt.Printf("engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	req := abac.NewAccessRequest(doc.Subject, doc.Resource, doc.Action, doc.Context)
	dec := engine.Decide(req)
	fmt.Printf("Outcome: %s\n", dec.Outcome)
	fmt.Printf("Matched: %v\n", dec.MatchedPolicyIDs)
	fmt.Printf("Reason:  %s\n", dec.Reason)
	if dec.Outcome != abac.OutcomePermit {
		os.Exit(2)
	}
}
