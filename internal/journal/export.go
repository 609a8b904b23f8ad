package journal

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/critterranch/structsync/internal/geo"
	"github.com/critterranch/structsync/internal/machine"
	"github.com/critterranch/structsync/pkg/protocol"
)

// Export is the root JSON structure consumed by the ranch dashboard.
type Export struct {
	ClientVersion   string          `json:"clientVersion"`
	ProtocolVersion int             `json:"protocolVersion"`
	SessionTag      string          `json:"sessionTag"`
	PlayerID        string          `json:"playerId"`
	PlayerName      string          `json:"playerName"`
	StartTime       string          `json:"startTime"`
	EndTime         string          `json:"endTime"`
	ClockOffsetMs   int64           `json:"clockOffsetMs"`
	PlotOrigin      []float64       `json:"plotOrigin"`
	Structures      []StructureJSON `json:"structures"`
	Requests        [][]any         `json:"requests"`
	Performance     [][]any         `json:"performance"`
}

// StructureJSON is one structure with its full state change history.
type StructureJSON struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Owner        string    `json:"owner,omitempty"`
	Anchor       []float64 `json:"anchor"`
	DiscoveredAt string    `json:"discoveredAt"`
	RemovedAt    string    `json:"removedAt,omitempty"`
	Changes      [][]any   `json:"changes"`
}

// geoFeature and geoCollection shape the GeoJSON sidecar. Geometry
// marshaling is delegated to simplefeatures.
type geoFeature struct {
	Type       string         `json:"type"`
	Geometry   geom.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// export writes the JSON and GeoJSON files. Caller holds the lock.
func (b *Memory) export() error {
	tag := strings.ReplaceAll(b.sess.SessionID(), " ", "_")
	tag = strings.ReplaceAll(tag, ":", "_")
	timestamp := b.sess.StartedAt().UTC().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", tag, timestamp)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	jsonPath := filepath.Join(b.cfg.OutputDir, base+".json")
	if b.cfg.CompressOutput {
		jsonPath += ".gz"
		if err := writeGzipJSON(jsonPath, b.buildExport()); err != nil {
			return err
		}
	} else {
		if err := writeJSON(jsonPath, b.buildExport()); err != nil {
			return err
		}
	}

	geoPath := filepath.Join(b.cfg.OutputDir, base+".geojson")
	if err := writeJSON(geoPath, b.buildGeoJSON()); err != nil {
		return err
	}

	b.lastExportPath = jsonPath
	return nil
}

func (b *Memory) buildExport() Export {
	origin := b.sess.PlotOrigin()
	export := Export{
		ClientVersion:   b.clientVersion,
		ProtocolVersion: protocol.Version,
		SessionTag:      b.sess.SessionID(),
		PlayerID:        b.sess.PlayerID(),
		PlayerName:      b.sess.PlayerName(),
		StartTime:       b.sess.StartedAt().UTC().Format(time.RFC3339),
		EndTime:         b.endedAt.Format(time.RFC3339),
		PlotOrigin:      []float64{origin.X, origin.Y},
		Structures:      make([]StructureJSON, 0, len(b.structures)),
		Requests:        make([][]any, 0, len(b.requests)),
		Performance:     make([][]any, 0, len(b.performance)),
	}
	if offset, ok := b.sess.Offset(); ok {
		export.ClockOffsetMs = offset.Milliseconds()
	}

	// Structures sorted by ID so exports of the same session are identical.
	ids := make([]string, 0, len(b.structures))
	for id := range b.structures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		log := b.structures[id]

		entry := StructureJSON{
			ID:           log.Structure.ID,
			Kind:         string(log.Structure.Kind),
			Owner:        log.Structure.Owner,
			Anchor:       anchorCoords(log.Structure.Anchor),
			DiscoveredAt: log.DiscoveredAt.UTC().Format(time.RFC3339),
			Changes:      make([][]any, 0, len(log.Changes)),
		}
		if log.RemovedAt != nil {
			entry.RemovedAt = log.RemovedAt.UTC().Format(time.RFC3339)
		}

		for _, ev := range log.Changes {
			// Format: [time, action, phase, state, hatchedUnit]
			var state any
			if payload := protocol.FromState(ev.State); payload != nil {
				state = payload
			}
			var hatched any
			if ev.AuxUnit != nil {
				hatched = protocol.FromUnit(*ev.AuxUnit)
			}
			entry.Changes = append(entry.Changes, []any{
				ev.At.UTC().Format(time.RFC3339),
				string(ev.Action),
				string(machine.Phase(ev.State, ev.At)),
				state,
				hatched,
			})
		}

		export.Structures = append(export.Structures, entry)
	}

	// Format: [time, command, structureId, outcome, detail, rttMs]
	for _, req := range b.requests {
		export.Requests = append(export.Requests, []any{
			req.At.UTC().Format(time.RFC3339),
			req.Command,
			req.StructureID,
			req.Outcome,
			req.Detail,
			float64(req.RTT) / float64(time.Millisecond),
		})
	}

	// Format: [time, structures, known, pending, overwrites, applied,
	// pullsIssued, pullsFailed, staleDrops, duplicates, droppedPushes,
	// clockOffsetMs]
	for _, sample := range b.performance {
		export.Performance = append(export.Performance, []any{
			sample.At.UTC().Format(time.RFC3339),
			sample.Structures,
			sample.Known,
			sample.Pending,
			sample.Overwrites,
			sample.Reconcile.Applied,
			sample.Reconcile.PullsIssued,
			sample.Reconcile.PullsFailed,
			sample.Reconcile.StaleDrops,
			sample.Reconcile.Duplicates,
			sample.DroppedPushes,
			sample.ClockOffset.Milliseconds(),
		})
	}

	return export
}

// buildGeoJSON renders the plot boundary and every structure anchor as
// lon/lat features for map tooling.
func (b *Memory) buildGeoJSON() geoCollection {
	collection := geoCollection{
		Type:     "FeatureCollection",
		Features: make([]geoFeature, 0, len(b.structures)+1),
	}

	if bounds, ok := b.sess.PlotBounds(); ok {
		collection.Features = append(collection.Features, geoFeature{
			Type:     "Feature",
			Geometry: geo.BoundaryToLatLon(bounds).AsGeometry(),
			Properties: map[string]any{
				"role": "plot-boundary",
			},
		})
	}

	ids := make([]string, 0, len(b.structures))
	for id := range b.structures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		log := b.structures[id]
		lon, lat := geo.WorldToLatLon(log.Structure.Anchor)
		point := geom.NewPoint(geom.Coordinates{
			XY:   geom.XY{X: lon, Y: lat},
			Type: geom.DimXY,
		})

		props := map[string]any{
			"id":           log.Structure.ID,
			"kind":         string(log.Structure.Kind),
			"owner":        log.Structure.Owner,
			"discoveredAt": log.DiscoveredAt.UTC().Format(time.RFC3339),
		}
		if log.RemovedAt != nil {
			props["removedAt"] = log.RemovedAt.UTC().Format(time.RFC3339)
		}

		collection.Features = append(collection.Features, geoFeature{
			Type:       "Feature",
			Geometry:   point.AsGeometry(),
			Properties: props,
		})
	}

	return collection
}

// anchorCoords flattens an anchor point to [x, y, z] world meters.
func anchorCoords(p geom.Point) []float64 {
	coords, ok := p.Coordinates()
	if !ok {
		return []float64{0, 0, 0}
	}
	return []float64{coords.X, coords.Y, coords.Z}
}

func writeJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
