package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/imranansari/gh-deploy-monitor/deployment"
)

const barWidth = 20

var stageLabels = map[deployment.StageKey]string{
	deployment.StageSourceCommit: "commit",
	deployment.StageSourceBuild:  "build",
	deployment.StageSourceDeploy: "deploy",
}

// renderer redraws the view on stdout. Change and tick callbacks arrive on
// different goroutines.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	view    deployment.View
	elapsed time.Duration
}

func newRenderer(out io.Writer, v deployment.View) *renderer {
	return &renderer{out: out, view: v}
}

func (r *renderer) onChange(v deployment.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = v
	r.draw()
}

func (r *renderer) onTick(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if elapsed == r.elapsed {
		return
	}
	r.elapsed = elapsed
	r.draw()
}

func (r *renderer) draw() {
	fmt.Fprint(r.out, render(r.view, r.elapsed))
}

func render(v deployment.View, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "deployment %s  %s", v.ID, strings.ToUpper(string(v.Status)))
	if elapsed > 0 || v.Status == deployment.StatusRunning {
		fmt.Fprintf(&b, "  %s", elapsed)
	}
	if v.Timing.TotalDuration != nil {
		fmt.Fprintf(&b, "  total %s", seconds(*v.Timing.TotalDuration))
	}
	b.WriteByte('\n')

	for _, key := range deployment.StageKeys() {
		s := v.Stages.Get(key)
		status := string(s.Status)
		if status == "" {
			status = "waiting"
		}
		fmt.Fprintf(&b, "  %-7s [%s] %3d%%  %-8s", stageLabels[key], bar(s.Progress), s.Progress, status)
		if s.Duration != nil {
			fmt.Fprintf(&b, " %s", seconds(*s.Duration))
		}
		if s.Message != "" {
			fmt.Fprintf(&b, "  %s", s.Message)
		}
		b.WriteByte('\n')
	}

	if v.Error != nil {
		if v.Error.Stage != "" {
			fmt.Fprintf(&b, "  error (%s): %s\n", stageLabels[v.Error.Stage], v.Error.Message)
		} else {
			fmt.Fprintf(&b, "  error: %s\n", v.Error.Message)
		}
	}
	return b.String()
}

func bar(progress int) string {
	filled := max(0, min(barWidth, progress*barWidth/100))
	return strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}
