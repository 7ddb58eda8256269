package main

import (
	"fmt"
	"io"
	"strconv"
	"time"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-core/engine/allocator"
	"github.com/Carmen-Shannon/oxy-core/engine/drawlist"
	"github.com/Carmen-Shannon/oxy-core/engine/driver"
	"github.com/Carmen-Shannon/oxy-core/engine/importer"
	"github.com/Carmen-Shannon/oxy-core/engine/profiler"
	"github.com/Carmen-Shannon/oxy-core/engine/store"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(header)
	return table
}

func fmtSize(bytes int) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func writeAssetTable(w io.Writer, results []importer.Result) {
	table := newTable(w, "Asset", "Node", "Meshes", "Vertices", "Triangles", "Clips", "Bounds")
	var meshes, vertices, triangles, clips int
	for _, r := range results {
		table.Append([]string{
			r.Path,
			r.Node.String(),
			strconv.Itoa(r.Meshes),
			strconv.Itoa(r.Vertices),
			strconv.Itoa(r.Triangles),
			strconv.Itoa(r.Clips),
			fmt.Sprintf("%.2f .. %.2f", r.Min, r.Max),
		})
		meshes += r.Meshes
		vertices += r.Vertices
		triangles += r.Triangles
		clips += r.Clips
	}
	table.SetFooter([]string{"Total", " ", strconv.Itoa(meshes), strconv.Itoa(vertices), strconv.Itoa(triangles), strconv.Itoa(clips), " "})
	table.Render()
}

func writeFrameTable(w io.Writer, sum profiler.Summary, rec driver.RecorderStats) {
	table := newTable(w, "Metric", "Total", "Per frame")
	perFrame := func(name string, total int) {
		table.Append([]string{name, strconv.Itoa(total), strconv.FormatFloat(sum.PerFrame(total), 'f', 2, 64)})
	}

	fps := 0.0
	if sum.Elapsed > 0 {
		fps = float64(sum.Frames) / sum.Elapsed.Seconds()
	}
	table.Append([]string{"Frames", strconv.Itoa(sum.Frames), " "})
	table.Append([]string{"Elapsed", sum.Elapsed.Round(time.Microsecond).String(), strconv.FormatFloat(fps, 'f', 1, 64) + " fps"})
	table.Append([]string{"CPU", sum.TotalCPU.Round(time.Microsecond).String(), sum.AvgCPU().Round(time.Microsecond).String()})
	table.Append([]string{"CPU max", " ", sum.MaxCPU.Round(time.Microsecond).String()})

	t := sum.Totals
	perFrame("Visible nodes", t.Visible)
	perFrame("Visible skinned", t.VisibleSkinned)
	perFrame("Visible overflow", t.Overflow)
	perFrame("Drawlist items", t.Items)
	perFrame("Dropped items", t.DroppedItems)
	perFrame("Binds", t.Binds)
	perFrame("Skipped binds", t.SkippedBinds)
	perFrame("Draws", t.Draws)
	perFrame("Instances", t.Instances)
	perFrame("Animated nodes", t.Animated)
	perFrame("CBuffer updates", rec.CBufferUpdates)
	perFrame("Debug events", rec.Events)
	table.Render()
}

func poolRow[T any](name string, p *allocator.Pool[T]) []string {
	var zero T
	size := int(unsafe.Sizeof(zero))
	return []string{
		name,
		strconv.Itoa(p.Count()),
		strconv.Itoa(p.Cap()),
		fmtSize(size),
		fmtSize(size * p.Cap()),
	}
}

func writePoolTable(w io.Writer, s *store.Store) {
	table := newTable(w, "Pool", "Live", "Capacity", "Slot", "Reserved")
	table.Append(poolRow("meshes", s.Meshes))
	table.Append(poolRow("nodes", s.Nodes))
	table.Append(poolRow("skinned", s.SkinnedNodes))
	table.Append(poolRow("instanced", s.InstancedNodes))
	table.Append(poolRow("animated", s.AnimatedNodes))
	table.Append([]string{"cbuffers", strconv.Itoa(s.CBufferCount() - 1), strconv.Itoa(s.CBufferCapacity() - 1), " ", " "})
	table.Render()
}

func writeArenaTable(w io.Writer, arenas ...*allocator.Arena) {
	table := newTable(w, "Arena", "Mode", "Used", "Peak", "Committed", "Capacity")
	for _, a := range arenas {
		mode := "fixed"
		if a.Virtual() {
			mode = "virtual"
		}
		table.Append([]string{a.Label(), mode, fmtSize(a.Used()), fmtSize(a.Peak()), fmtSize(a.Committed()), fmtSize(a.Cap())})
	}
	table.Render()
}

func writeSortKeyTable(w io.Writer, s *store.Store) {
	table := newTable(w, "Mesh kind", "Policy", "Node bits", "Shader bits", "Depth bits", "Max depth", "Max distance")
	layouts := []struct {
		name     string
		kind     drawlist.MeshKind
		capacity int
	}{
		{"base", drawlist.MeshBase, max(s.Nodes.Cap(), s.SkinnedNodes.Cap())},
		{"instanced", drawlist.MeshInstanced, s.InstancedNodes.Cap()},
	}
	for _, l := range layouts {
		for _, policy := range []drawlist.SortPolicy{drawlist.SortDefault, drawlist.SortBackToFront} {
			p := drawlist.MakeSortParams(l.kind, policy, l.capacity)
			table.Append([]string{
				l.name,
				policy.String(),
				strconv.Itoa(int(p.NodeBits)),
				strconv.Itoa(int(p.ShaderBits)),
				strconv.Itoa(int(p.DepthBits)),
				strconv.FormatUint(uint64(p.MaxDistValue), 10),
				strconv.FormatFloat(float64(p.MaxDistSq), 'f', 0, 32) + " (sq)",
			})
		}
	}
	table.Render()
}

func writeShaderTable(w io.Writer, s *store.Store) {
	table := newTable(w, "Shader", "ID", "Status")
	for t, id := range s.Shaders {
		status := "ok"
		if id == 0 {
			status = "none"
		}
		table.Append([]string{store.ShaderType(t).String(), strconv.Itoa(int(id)), status})
	}
	table.Render()
}
