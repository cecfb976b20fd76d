package transaction

import (
	"slices"
	"strings"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/script"
)

type triggerSense struct {
	flags depset.Sense
	name  string
}

var (
	triggerIn     = triggerSense{depset.SenseTriggerIn, "%triggerin"}
	triggerUn     = triggerSense{depset.SenseTriggerUn, "%triggerun"}
	triggerPostUn = triggerSense{depset.SenseTriggerPostUn, "%triggerpostun"}
)

type triggerKey struct {
	source, triggered uint32
	index             int
}

// runTriggers fires the triggers src takes part in: first src's own
// triggers on installed packages, then installed packages' triggers on
// src. correction is added to the installed counts passed as arguments,
// -1 while src is on its way out.
func (t *Transaction) runTriggers(srcID uint32, src *header.Header, sense triggerSense, correction int) error {
	if t.Flags&(FlagNoTriggers|FlagJustDB) != 0 {
		return nil
	}
	ran := make(map[triggerKey]bool)

	names := make(map[string]bool)
	for _, r := range src.Records(depset.Triggers) {
		if r.Flags&sense.flags != 0 {
			names[r.Name] = true
		}
	}
	for _, name := range sortedKeys(names) {
		for _, m := range t.DB.Lookup(header.TagName, name) {
			other, err := t.DB.Get(m.ID)
			if err != nil {
				continue
			}
			if err := t.fireTriggers(sense, m.ID, other, srcID, src, correction, ran); err != nil {
				return err
			}
		}
	}

	seen := make(map[uint32]bool)
	for _, m := range t.DB.Lookup(header.TagTriggerName, src.Name()) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		triggered, err := t.DB.Get(m.ID)
		if err != nil {
			continue
		}
		if err := t.fireTriggers(sense, srcID, src, m.ID, triggered, correction, ran); err != nil {
			return err
		}
	}
	return nil
}

// fireTriggers runs every trigger of triggered that names source. Each
// script index runs once per pair.
func (t *Transaction) fireTriggers(sense triggerSense, sourceID uint32, source *header.Header,
	triggeredID uint32, triggered *header.Header, correction int, ran map[triggerKey]bool) error {
	for _, r := range triggered.Records(depset.Triggers) {
		if r.Flags&sense.flags == 0 || r.Name != source.Name() || !r.SatisfiedBy(source.EVR()) {
			continue
		}
		key := triggerKey{sourceID, triggeredID, r.Index}
		if ran[key] {
			continue
		}
		ran[key] = true

		arg1 := t.DB.CountPackages(triggered.Name())
		if triggered.Name() == source.Name() {
			arg1 += correction
		}
		arg2 := t.DB.CountPackages(source.Name()) + correction
		body, prog := triggered.TriggerScript(r.Index)
		t.Log.Debug().Str("trigger", sense.name).Str("package", triggered.NVR()).Str("on", source.NVR()).
			Int("arg1", arg1).Int("arg2", arg2).Msg("firing trigger")
		err := t.Scripts.Run(script.Script{
			Name:     sense.name,
			Package:  triggered.NVR(),
			Body:     body,
			Prog:     strings.Fields(prog),
			Args:     []int{arg1, arg2},
			Prefixes: installPrefixes(triggered),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
