// ---------------------------------------------------------------------------
// scripts/demo_incident/main.go: Scripted incident topology demo
//
// Usage:
//   go run ./scripts/demo_incident --server http://localhost:8080
//   go run ./scripts/demo_incident --feed ./feed.ndjson
//
// Flags:
//   --server    Base URL of the topology server   (default: http://localhost:8080)
//   --incident  Incident ID to publish under      (default: demo-<unix time>)
//   --interval  Seconds between phases            (default: 5)
//   --feed      Append NDJSON records to this file instead of posting
// ---------------------------------------------------------------------------
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// ---------------------------------------------------------------------------
// ANSI colour helpers
// ---------------------------------------------------------------------------

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	blue   = "\033[34m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

func colour(c, s string) string { return c + s + reset }

func header(phase, total int, msg string) {
	bar := strings.Repeat("━", 60)
	fmt.Println()
	fmt.Println(colour(dim, bar))
	fmt.Printf("  %s  %s\n", colour(bold+cyan, fmt.Sprintf("Phase %d/%d", phase, total)), colour(bold+white, msg))
	fmt.Println(colour(dim, bar))
}

// ---------------------------------------------------------------------------
// Scenario
// ---------------------------------------------------------------------------

// phase mutates the base topology into the state shown at one step.
type phase struct {
	title  string
	colour string
	apply  func(s *topology.Snapshot)
}

func baseTopology() *topology.Snapshot {
	return &topology.Snapshot{
		Nodes: []topology.Node{
			{ID: "ingress", Type: "loadbalancer", Label: "edge-ingress", Status: topology.StatusHealthy},
			{ID: "checkout", Type: "deployment", Label: "checkout-api", Status: topology.StatusHealthy},
			{ID: "checkout-pod-1", Type: "pod", Label: "checkout-7d9f-a", Status: topology.StatusHealthy, ParentID: "checkout"},
			{ID: "checkout-pod-2", Type: "pod", Label: "checkout-7d9f-b", Status: topology.StatusHealthy, ParentID: "checkout"},
			{ID: "payments", Type: "service", Label: "payments", Status: topology.StatusHealthy},
			{ID: "orders-db", Type: "database", Label: "orders-postgres", Status: topology.StatusHealthy},
			{ID: "cache", Type: "cache", Label: "redis-sessions", Status: topology.StatusHealthy},
		},
		Edges: []topology.Edge{
			{Source: "ingress", Target: "checkout", Type: topology.EdgeTypeNetwork},
			{Source: "checkout", Target: "payments", Type: topology.EdgeTypeDependency},
			{Source: "checkout", Target: "orders-db", Type: topology.EdgeTypeDependency},
			{Source: "checkout", Target: "cache", Type: topology.EdgeTypeDependency},
		},
	}
}

func setStatus(s *topology.Snapshot, status topology.NodeStatus, ids ...string) {
	for i := range s.Nodes {
		for _, id := range ids {
			if s.Nodes[i].ID == id {
				s.Nodes[i].Status = status
			}
		}
	}
}

var phases = []phase{
	{"Alert fired, investigation started", green, func(s *topology.Snapshot) {
		setStatus(s, topology.StatusInvestigating, "checkout")
	}},
	{"Checkout pods degrading", yellow, func(s *topology.Snapshot) {
		setStatus(s, topology.StatusDegraded, "checkout", "checkout-pod-1", "checkout-pod-2")
		setStatus(s, topology.StatusInvestigating, "orders-db", "payments")
	}},
	{"Root cause identified: orders database", red, func(s *topology.Snapshot) {
		setStatus(s, topology.StatusDegraded, "checkout", "checkout-pod-1", "checkout-pod-2", "payments")
		setStatus(s, topology.StatusFailed, "orders-db")
		s.RootCauseID = "orders-db"
		s.AffectedIDs = []string{"checkout", "payments"}
		s.Edges = append(s.Edges,
			topology.Edge{Source: "orders-db", Target: "checkout", Label: "connection pool exhausted", Type: topology.EdgeTypeCausation},
			topology.Edge{Source: "checkout", Target: "payments", Label: "timeouts", Type: topology.EdgeTypeCausation},
		)
	}},
	{"Recovered", blue, func(s *topology.Snapshot) {
		s.RootCauseID = "orders-db"
	}},
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func postSnapshot(serverURL, incidentID string, snap *topology.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/incidents/%s/snapshots", serverURL, incidentID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("POST %s returned %d: %s", url, resp.StatusCode, e.Error)
	}
	return nil
}

func appendFeed(path, incidentID string, snap *topology.Snapshot) error {
	line, err := json.Marshal(map[string]interface{}{
		"incidentId": incidentID,
		"snapshot":   snap,
	})
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func main() {
	serverFlag := flag.String("server", "http://localhost:8080", "Topology server base URL")
	incidentFlag := flag.String("incident", "", "Incident ID (default: demo-<unix time>)")
	intervalFlag := flag.Int("interval", 5, "Seconds between phases")
	feedFlag := flag.String("feed", "", "Append NDJSON records to this file instead of posting")
	flag.Parse()

	serverURL := strings.TrimRight(*serverFlag, "/")
	incidentID := *incidentFlag
	if incidentID == "" {
		incidentID = fmt.Sprintf("demo-%d", time.Now().Unix())
	}
	interval := time.Duration(*intervalFlag) * time.Second

	target := serverURL
	if *feedFlag != "" {
		target = *feedFlag
	}
	fmt.Printf("\n  %s %s\n", colour(dim, "Incident:"), colour(bold+white, incidentID))
	fmt.Printf("  %s %s\n", colour(dim, "Target:  "), colour(white, target))

	snap := baseTopology()
	for i, p := range phases {
		header(i+1, len(phases), colour(p.colour, p.title))

		if i == len(phases)-1 {
			snap = baseTopology()
		}
		p.apply(snap)
		snap.Version = int64(i + 1)

		var err error
		if *feedFlag != "" {
			err = appendFeed(*feedFlag, incidentID, snap)
		} else {
			err = postSnapshot(serverURL, incidentID, snap)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", colour(bold+red, "Error:"), err)
			os.Exit(1)
		}
		fmt.Printf("  %s v%d  %d nodes  %d edges\n", colour(green, "✓"), snap.Version, len(snap.Nodes), len(snap.Edges))

		if i < len(phases)-1 {
			time.Sleep(interval)
		}
	}

	fmt.Printf("\n  %s\n\n", colour(bold+green, "✓ Demo complete."))
	if *feedFlag == "" {
		fmt.Printf("  %s %s/api/incidents/%s/topology?format=table\n\n", colour(dim, "View:"), serverURL, incidentID)
	}
}
