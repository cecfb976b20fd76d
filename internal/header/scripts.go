package header

// Script names a lifecycle script slot.
type Script int

const (
	ScriptPre Script = iota
	ScriptPost
	ScriptPreUn
	ScriptPostUn
	ScriptVerify
)

var scriptTags = map[Script][2]Tag{
	ScriptPre:    {TagPreIn, TagPreInProg},
	ScriptPost:   {TagPostIn, TagPostInProg},
	ScriptPreUn:  {TagPreUn, TagPreUnProg},
	ScriptPostUn: {TagPostUn, TagPostUnProg},
	ScriptVerify: {TagVerifyScript, TagVerifyScriptProg},
}

func (s Script) String() string {
	switch s {
	case ScriptPre:
		return "%pre"
	case ScriptPost:
		return "%post"
	case ScriptPreUn:
		return "%preun"
	case ScriptPostUn:
		return "%postun"
	case ScriptVerify:
		return "%verifyscript"
	}
	return "%unknown"
}

// DefaultInterpreter runs scripts that do not name one.
const DefaultInterpreter = "/bin/sh"

// Script returns the body and interpreter of s. The interpreter is empty
// when the slot is not set at all.
func (h *Header) Script(s Script) (body, prog string) {
	t := scriptTags[s]
	body = h.String(t[0])
	prog = h.String(t[1])
	if prog == "" && body != "" {
		prog = DefaultInterpreter
	}
	return body, prog
}

func (h *Header) SetScript(s Script, body, prog string) {
	t := scriptTags[s]
	h.SetString(t[0], body)
	if prog != "" {
		h.SetString(t[1], prog)
	}
}

// TriggerScript returns the body and interpreter for trigger index i.
func (h *Header) TriggerScript(i int) (body, prog string) {
	bodies := h.Strings(TagTriggerScripts)
	progs := h.Strings(TagTriggerScriptProg)
	body = strAt(bodies, i)
	prog = strAt(progs, i)
	if prog == "" {
		prog = DefaultInterpreter
	}
	return body, prog
}

// AddTriggerScript appends a trigger body and returns its index.
func (h *Header) AddTriggerScript(body, prog string) int {
	if prog == "" {
		prog = DefaultInterpreter
	}
	n := len(h.Strings(TagTriggerScripts))
	_ = h.AddOrAppend(TagTriggerScripts, ArrayValue(body))
	_ = h.AddOrAppend(TagTriggerScriptProg, ArrayValue(prog))
	return n
}
