// ===========================================================================
// scripts/generate_topology/main.go: Generate synthetic incident topologies
//
// Usage:
//   go run ./scripts/generate_topology --out ./big.yaml --services 40
//   go run ./scripts/generate_topology --db-path ./demo.db --versions 10
//
// The first form writes one snapshot file for `aurora-topology layout`.
// The second seeds a database with an evolving incident history.
// ===========================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Arvo-AI/aurora-sub002/internal/storage"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	outPath    = flag.String("out", "", "Write a single snapshot to this .json/.yaml file")
	dbPath     = flag.String("db-path", "", "Seed this SQLite database with an incident history")
	incidentID = flag.String("incident", "synthetic-1", "Incident ID used with --db-path")
	services   = flag.Int("services", 20, "Number of top-level services")
	maxPods    = flag.Int("max-pods", 4, "Maximum pods per deployment")
	versions   = flag.Int("versions", 5, "Snapshot versions written with --db-path")
	anomalies  = flag.Bool("anomalies", false, "Include ghost parents, self-loops and a dependency cycle")
	seed       = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var serviceKinds = []string{"service", "deployment", "database", "cache", "queue", "loadbalancer"}

var failureLabels = []string{
	"connection refused",
	"p99 latency breach",
	"OOMKilled",
	"replication lag",
	"5xx spike",
}

// generate builds one snapshot. Statuses worsen with version so a seeded
// history reads like an incident unfolding.
func generate(rng *rand.Rand, version int) *topology.Snapshot {
	snap := &topology.Snapshot{Version: int64(version)}

	var top []string
	for i := 0; i < *services; i++ {
		kind := serviceKinds[rng.Intn(len(serviceKinds))]
		id := fmt.Sprintf("%s-%02d", kind, i)
		top = append(top, id)
		snap.Nodes = append(snap.Nodes, topology.Node{
			ID:     id,
			Type:   kind,
			Label:  id,
			Status: topology.StatusHealthy,
		})
		if kind == "deployment" {
			pods := 1 + rng.Intn(*maxPods)
			for p := 0; p < pods; p++ {
				snap.Nodes = append(snap.Nodes, topology.Node{
					ID:       fmt.Sprintf("%s-pod-%d", id, p),
					Type:     "pod",
					Label:    fmt.Sprintf("%s-%04x", id, rng.Intn(0xffff)),
					Status:   topology.StatusHealthy,
					ParentID: id,
				})
			}
		}
	}

	// Edges only point forward so the graph is a DAG unless anomalies
	// are requested.
	for i := 1; i < len(top); i++ {
		deps := 1 + rng.Intn(2)
		for d := 0; d < deps; d++ {
			src := top[rng.Intn(i)]
			snap.Edges = append(snap.Edges, topology.Edge{Source: src, Target: top[i], Type: topology.EdgeTypeDependency})
		}
	}

	if version > 1 && len(top) > 0 {
		root := top[len(top)/2]
		snap.RootCauseID = root
		for i := range snap.Nodes {
			n := &snap.Nodes[i]
			switch {
			case n.ID == root:
				n.Status = topology.StatusFailed
			case rng.Intn(*versions+1) < version:
				n.Status = topology.StatusDegraded
				snap.AffectedIDs = append(snap.AffectedIDs, n.ID)
			}
		}
		for _, e := range snap.Edges {
			if e.Source == root {
				snap.Edges = append(snap.Edges, topology.Edge{
					Source: root,
					Target: e.Target,
					Label:  failureLabels[rng.Intn(len(failureLabels))],
					Type:   topology.EdgeTypeCausation,
				})
			}
		}
	}

	if *anomalies && len(top) > 2 {
		snap.Nodes = append(snap.Nodes, topology.Node{ID: "orphan-pod", Type: "pod", Label: "orphan", ParentID: "deleted-deployment"})
		snap.Edges = append(snap.Edges,
			topology.Edge{Source: top[0], Target: top[0]},
			topology.Edge{Source: top[len(top)-1], Target: top[0]},
			topology.Edge{Source: "orphan-pod", Target: top[1]},
		)
	}
	return snap
}

func writeFile(path string, snap *topology.Snapshot) error {
	var data []byte
	var err error
	if topology.FormatFromPath(path) == topology.FormatYAML {
		data, err = yaml.Marshal(snap)
	} else {
		data, err = json.MarshalIndent(snap, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func main() {
	flag.Parse()
	if *outPath == "" && *dbPath == "" {
		log.Fatal("one of --out or --db-path is required")
	}
	rng := rand.New(rand.NewSource(*seed))

	if *outPath != "" {
		snap := generate(rng, 2)
		if err := writeFile(*outPath, snap); err != nil {
			log.Fatalf("write %s: %v", *outPath, err)
		}
		fmt.Printf("wrote %s: %d nodes, %d edges\n", *outPath, len(snap.Nodes), len(snap.Edges))
	}

	if *dbPath != "" {
		store, err := storage.New(*dbPath)
		if err != nil {
			log.Fatalf("open storage: %v", err)
		}
		defer store.Close()

		ctx := context.Background()
		for v := 1; v <= *versions; v++ {
			snap := generate(rand.New(rand.NewSource(*seed+int64(v))), v)
			rec, err := store.SaveSnapshot(ctx, *incidentID, snap)
			if err != nil {
				log.Fatalf("save v%d: %v", v, err)
			}
			fmt.Printf("saved %s v%d (%d nodes, %d edges)\n", rec.IncidentID, rec.Version, rec.NodeCount, rec.EdgeCount)
		}
	}
}
