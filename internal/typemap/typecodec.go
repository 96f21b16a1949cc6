package typemap

import (
	"fmt"
	"strings"

	"github.com/hostedat/jswit/internal/names"
	"github.com/hostedat/jswit/internal/wit"
)

// GenerateUserTypeCode renders the Go type declarations and wrap%s/unwrap%s
// (or parse%s for enums) codec functions that the closures wrapUserType
// hands out in WrapType reference by name. Export and import adapter
// generators call this once, after walking every function they cover, and
// splice the result into the same file as their own output so the two stay
// in the same compilation unit without a forward-declaration problem.
func GenerateUserTypeCode(m *Mapper) (string, error) {
	var b strings.Builder
	for _, def := range m.Visited() {
		pair, err := names.Map(def.Name, names.KindType)
		if err != nil {
			return "", err
		}
		var src string
		switch def.Kind {
		case wit.TypeDefRecord:
			src, err = recordCode(m, def, pair)
		case wit.TypeDefVariant:
			src, err = variantCode(m, def, pair)
		case wit.TypeDefEnum:
			src, err = enumCode(def, pair)
		case wit.TypeDefFlags:
			src, err = flagsCode(def, pair)
		default:
			continue
		}
		if err != nil {
			return "", fmt.Errorf("typemap: generating %s: %w", def.Name, err)
		}
		b.WriteString(src)
	}
	return b.String(), nil
}

// goLit renders value (an already-computed runtime string) as Go source
// text for a string literal holding that exact value — the bridge between
// generation-time text we compute in Go and the Go source we're emitting.
func goLit(value string) string {
	return fmt.Sprintf("%q", value)
}

func recordCode(m *Mapper, def *wit.TypeDef, pair names.Pair) (string, error) {
	type fieldPlan struct {
		goName string
		jsName string
		wrap   WrappedType
	}
	fields := make([]fieldPlan, len(def.Fields))
	for i, f := range def.Fields {
		fp, err := names.Map(f.Name, names.KindField)
		if err != nil {
			return "", err
		}
		wt, err := m.WrapType(f.Type)
		if err != nil {
			return "", err
		}
		fields[i] = fieldPlan{goName: fp.Host, jsName: fp.JS, wrap: wt}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s is the host representation of the %q record.\n", pair.Host, pair.JS)
	fmt.Fprintf(&b, "type %s struct {\n", pair.Host)
	for _, f := range fields {
		fmt.Fprintf(&b, "\t%s %s\n", f.goName, f.wrap.HostType)
	}
	fmt.Fprint(&b, "}\n\n")

	fmt.Fprintf(&b, "func wrap%s(v %s) string {\n", pair.Host, pair.Host)
	parts := make([]string, len(fields))
	for i, f := range fields {
		prefix := goLit(fmt.Sprintf("%q: ", f.jsName))
		parts[i] = fmt.Sprintf("%s + %s", prefix, f.wrap.Wrap("v."+f.goName))
	}
	fmt.Fprintf(&b, "\treturn \"{\" + strings.Join([]string{%s}, \", \") + \"}\"\n}\n\n", strings.Join(parts, ", "))

	fmt.Fprintf(&b, "func unwrap%s(raw any) %s {\n", pair.Host, pair.Host)
	fmt.Fprint(&b, "\tm, _ := raw.(map[string]any)\n")
	fmt.Fprintf(&b, "\treturn %s{\n", pair.Host)
	for _, f := range fields {
		fmt.Fprintf(&b, "\t\t%s: %s,\n", f.goName, f.wrap.Unwrap(fmt.Sprintf("m[%q]", f.jsName)))
	}
	fmt.Fprint(&b, "\t}\n}\n\n")
	return b.String(), nil
}

func variantCode(m *Mapper, def *wit.TypeDef, pair names.Pair) (string, error) {
	type casePlan struct {
		goName   string
		jsName   string
		wrap     WrappedType
		hasValue bool
	}
	cases := make([]casePlan, len(def.Fields))
	for i, f := range def.Fields {
		cp, err := names.Map(f.Name, names.KindField)
		if err != nil {
			return "", err
		}
		c := casePlan{goName: cp.Host, jsName: cp.JS, hasValue: f.HasPayload}
		if f.HasPayload {
			wt, err := m.WrapType(f.Type)
			if err != nil {
				return "", err
			}
			c.wrap = wt
		}
		cases[i] = c
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s is the host representation of the %q variant: Tag names the\n// active case; at most one Val field is populated, matching Tag.\n", pair.Host, pair.JS)
	fmt.Fprintf(&b, "type %s struct {\n\tTag string\n", pair.Host)
	for _, c := range cases {
		if c.hasValue {
			fmt.Fprintf(&b, "\tVal%s *%s\n", c.goName, c.wrap.HostType)
		}
	}
	fmt.Fprint(&b, "}\n\n")

	fmt.Fprintf(&b, "func wrap%s(v %s) string {\n\tswitch v.Tag {\n", pair.Host, pair.Host)
	for _, c := range cases {
		fmt.Fprintf(&b, "\tcase %s:\n", goLit(c.jsName))
		if c.hasValue {
			noPayload := goLit(fmt.Sprintf(`{"tag": %q}`, c.jsName))
			fmt.Fprintf(&b, "\t\tif v.Val%s == nil {\n\t\t\treturn %s\n\t\t}\n", c.goName, noPayload)
			prefix := goLit(fmt.Sprintf(`{"tag": %q, "val": `, c.jsName))
			fmt.Fprintf(&b, "\t\treturn %s + %s + \"}\"\n", prefix, c.wrap.Wrap("*v.Val"+c.goName))
		} else {
			fmt.Fprintf(&b, "\t\treturn %s\n", goLit(fmt.Sprintf(`{"tag": %q}`, c.jsName)))
		}
	}
	fmt.Fprintf(&b, "\t}\n\treturn %s\n}\n\n", goLit(fmt.Sprintf(`{"tag": %q}`, cases[0].jsName)))

	fmt.Fprintf(&b, "func unwrap%s(raw any) %s {\n", pair.Host, pair.Host)
	fmt.Fprint(&b, "\tm, _ := raw.(map[string]any)\n\ttag, _ := m[\"tag\"].(string)\n")
	fmt.Fprintf(&b, "\tswitch tag {\n")
	for _, c := range cases {
		fmt.Fprintf(&b, "\tcase %s:\n", goLit(c.jsName))
		if c.hasValue {
			fmt.Fprintf(&b, "\t\tv := %s\n\t\treturn %s{Tag: %s, Val%s: &v}\n", c.wrap.Unwrap(`m["val"]`), pair.Host, goLit(c.jsName), c.goName)
		} else {
			fmt.Fprintf(&b, "\t\treturn %s{Tag: %s}\n", pair.Host, goLit(c.jsName))
		}
	}
	fmt.Fprintf(&b, "\t}\n\treturn %s{Tag: tag}\n}\n\n", pair.Host)
	return b.String(), nil
}

func enumCode(def *wit.TypeDef, pair names.Pair) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s is the host representation of the %q enum.\n", pair.Host, pair.JS)
	fmt.Fprintf(&b, "type %s string\n\n", pair.Host)
	fmt.Fprint(&b, "const (\n")
	for _, c := range def.EnumCases {
		cp, err := names.Map(c, names.KindField)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\t%s%s %s = %s\n", pair.Host, exportName(cp.Host), pair.Host, goLit(cp.JS))
	}
	fmt.Fprint(&b, ")\n\n")
	fmt.Fprintf(&b, "func (e %s) String() string { return string(e) }\n\n", pair.Host)
	fmt.Fprintf(&b, "// parse%s accepts any decoded wire string; an unrecognized case name\n// round-trips as-is rather than erroring, so a newer guest build can add\n// cases without breaking an older host.\n", pair.Host)
	fmt.Fprintf(&b, "func parse%s(s string) %s { return %s(s) }\n\n", pair.Host, pair.Host, pair.Host)
	return b.String(), nil
}

func flagsCode(def *wit.TypeDef, pair names.Pair) (string, error) {
	type flagPlan struct {
		goName string
		jsName string
	}
	flags := make([]flagPlan, len(def.FlagsFields))
	for i, f := range def.FlagsFields {
		fp, err := names.Map(f, names.KindFlag)
		if err != nil {
			return "", err
		}
		flags[i] = flagPlan{goName: fp.Host, jsName: fp.JS}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s is the host representation of the %q flags set.\n", pair.Host, pair.JS)
	fmt.Fprintf(&b, "type %s struct {\n", pair.Host)
	for _, f := range flags {
		fmt.Fprintf(&b, "\t%s bool\n", f.goName)
	}
	fmt.Fprint(&b, "}\n\n")

	fmt.Fprintf(&b, "func wrap%s(v %s) string {\n\tparts := []string{}\n", pair.Host, pair.Host)
	for _, f := range flags {
		entry := goLit(fmt.Sprintf("%q: true", f.jsName))
		fmt.Fprintf(&b, "\tif v.%s {\n\t\tparts = append(parts, %s)\n\t}\n", f.goName, entry)
	}
	fmt.Fprint(&b, "\treturn \"{\" + strings.Join(parts, \", \") + \"}\"\n}\n\n")

	fmt.Fprintf(&b, "func unwrap%s(raw any) %s {\n", pair.Host, pair.Host)
	fmt.Fprint(&b, "\tm, _ := raw.(map[string]any)\n")
	fmt.Fprintf(&b, "\treturn %s{\n", pair.Host)
	for _, f := range flags {
		fmt.Fprintf(&b, "\t\t%s: marshal.AsBool(m[%q]),\n", f.goName, f.jsName)
	}
	fmt.Fprint(&b, "\t}\n}\n\n")
	return b.String(), nil
}

func exportName(host string) string {
	if host == "" {
		return host
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
