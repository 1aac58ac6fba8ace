// Command kprofile converts a JSON quantum-trace dump (one task sample
// per scheduler tick) into a pprof-format profile, so `go tool pprof`
// can render per-task CPU-quantum flamegraphs. The kernel in this tree
// does not write such a dump itself.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/pprof/profile"
)

// quantumSample is one line of the trace: a task that was running when
// a given number of timer ticks elapsed since boot.
type quantumSample struct {
	TaskID   int64  `json:"task_id"`
	TaskName string `json:"task_name"`
	Ticks    int64  `json:"ticks"`
}

func main() {
	in := flag.String("trace", "", "path to a JSON quantum-trace dump (one quantumSample object per line)")
	out := flag.String("out", "quantum.pb.gz", "path to write the pprof-format profile to")
	tickNs := flag.Int64("tick-ns", 10_000_000, "nanoseconds represented by one tick sample")
	flag.Parse()

	if *in == "" {
		log.Fatal("kprofile: -trace is required")
	}
	samples, err := readTrace(*in)
	if err != nil {
		log.Fatalf("kprofile: %v", err)
	}

	prof := buildProfile(samples, time.Duration(*tickNs))
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("kprofile: %v", err)
	}
	defer f.Close()
	if err := prof.Write(f); err != nil {
		log.Fatalf("kprofile: writing profile: %v", err)
	}
}

func readTrace(path string) ([]quantumSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var samples []quantumSample
	for dec.More() {
		var s quantumSample
		if err := dec.Decode(&s); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func buildProfile(samples []quantumSample, tick time.Duration) *profile.Profile {
	funcs := map[int64]*profile.Function{}
	locs := map[int64]*profile.Location{}
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "ticks", Unit: "count"}, {Type: "cpu", Unit: "nanoseconds"}},
		TimeNanos:  1,
		Period:     1,
	}

	var nextID uint64 = 1
	counts := map[int64]int64{}
	names := map[int64]string{}
	for _, s := range samples {
		counts[s.TaskID]++
		names[s.TaskID] = s.TaskName
	}
	for taskID, name := range names {
		fn := &profile.Function{ID: nextID, Name: name, SystemName: name}
		nextID++
		funcs[taskID] = fn
		prof.Function = append(prof.Function, fn)

		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
		nextID++
		locs[taskID] = loc
		prof.Location = append(prof.Location, loc)
	}
	for taskID, ticks := range counts {
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{locs[taskID]},
			Value:    []int64{ticks, ticks * int64(tick)},
		})
	}
	return prof
}
