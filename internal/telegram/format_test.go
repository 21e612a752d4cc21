package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", ""},
		{"plain text unchanged", "Hello, world!", "Hello, world!"},
		{"bold", "This is **bold** text", "This is <b>bold</b> text"},
		{"italic", "This is *italic* text", "This is <i>italic</i> text"},
		{"bold and italic", "**bold** and *italic*", "<b>bold</b> and <i>italic</i>"},
		{"underscore variants", "__bold__ and _italic_", "<b>bold</b> and <i>italic</i>"},
		{"snake_case survives", "call do_the_thing now", "call do_the_thing now"},
		{"strikethrough", "This is ~~deleted~~ text", "This is <s>deleted</s> text"},
		{"inline code", "Use `fmt.Println` here", "Use <code>fmt.Println</code> here"},
		{"inline code escapes html", "Use `x < y && z > w` here", "Use <code>x &lt; y &amp;&amp; z &gt; w</code> here"},
		{
			"fence with language tag",
			"Here:\n```go\nfmt.Println(\"hello\")\n```\nDone.",
			"Here:\n<pre><code>fmt.Println(\"hello\")</code></pre>\nDone.",
		},
		{
			"fence without language tag",
			"Example:\n```\nsome code\n```",
			"Example:\n<pre><code>some code</code></pre>",
		},
		{
			"fence body kept verbatim",
			"```python\nif x > 0:\n    print(**kwargs)\n```",
			"<pre><code>if x &gt; 0:\n    print(**kwargs)</code></pre>",
		},
		{"h1", "# Hello World", "<b>Hello World</b>"},
		{"h2", "## Section Title", "<b>Section Title</b>"},
		{"h3", "### Subsection", "<b>Subsection</b>"},
		{
			"link",
			"Visit [Google](https://google.com) for search",
			`Visit <a href="https://google.com">Google</a> for search`,
		},
		{
			"link href attr-escaped",
			"Visit [site](https://example.com?q=\"x\"&v=1)",
			`Visit <a href="https://example.com?q=&quot;x&quot;&amp;v=1">site</a>`,
		},
		{"raw html escaped", "Use <div> & <span> tags", "Use &lt;div&gt; &amp; &lt;span&gt; tags"},
		{
			"markdown inert inside inline code",
			"The `**bold**` syntax makes text bold",
			"The <code>**bold**</code> syntax makes text bold",
		},
		{
			"markdown inert inside fence",
			"```\n**not bold** and *not italic*\n```",
			"<pre><code>**not bold** and *not italic*</code></pre>",
		},
		{"repeated inline code", "Use `foo` and `bar` functions", "Use <code>foo</code> and <code>bar</code> functions"},
		{"repeated bold", "**first** and **second**", "<b>first</b> and <b>second</b>"},
		{"blockquote", "> This is a quote", "▎ <i>This is a quote</i>"},
		{
			name: "mixed document",
			input: `# Title

This is **bold** and *italic* text with ` + "`code`" + ` inline.

` + "```go" + `
func main() {
    fmt.Println("hello")
}
` + "```" + `

Visit [docs](https://example.com) for more.`,
			want: "<b>Title</b>\n\nThis is <b>bold</b> and <i>italic</i> text with <code>code</code> inline.\n\n<pre><code>func main() {\n    fmt.Println(\"hello\")\n}</code></pre>\n\nVisit <a href=\"https://example.com\">docs</a> for more.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderHTML(tt.input)
			if got != tt.want {
				t.Errorf("RenderHTML(%q)\n  got:  %q\n  want: %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderHTML_agentAnswer(t *testing.T) {
	// The shape of a typical agent reply: bullets, a fence, a quote and
	// a table in one message.
	input := "A **compost pile** needs the right carbon balance.\n\n" +
		"- **Browns**: dry leaves, cardboard.\n" +
		"- **Greens**: kitchen scraps, grass.\n\n" +
		"**Example:**\n" +
		"```\nlayer browns\nlayer greens\nturn weekly\n```\n\n" +
		"> *Keep it as damp as a wrung-out sponge.*\n\n" +
		"| Material | Ratio |\n" +
		"|---|---|\n" +
		"| Browns | 3 |\n" +
		"| Greens | 1 |"

	got := RenderHTML(input)
	t.Logf("rendered:\n%s", got)

	if strings.Contains(got, "**") {
		t.Error("output still contains ** markers")
	}
	if strings.Contains(got, "```") {
		t.Error("output still contains ``` markers")
	}
	if !strings.Contains(got, "<pre><code>") {
		t.Error("table should be lifted into <pre><code>")
	}
	if !strings.Contains(got, "Material") || !strings.Contains(got, "Browns") {
		t.Error("table content missing")
	}
	if !strings.Contains(got, "▎") {
		t.Error("blockquote marker missing")
	}
	if !strings.Contains(got, "• ") {
		t.Error("bullets not converted")
	}
}

func TestRenderHTML_horizontalRule(t *testing.T) {
	for _, input := range []string{
		"above\n---\nbelow",
		"above\n***\nbelow",
		"above\n___\nbelow",
		"above\n----------\nbelow",
	} {
		got := RenderHTML(input)
		if !strings.Contains(got, "————————————————") {
			t.Errorf("rule not converted in %q:\n  got: %q", input, got)
		}
		if strings.Contains(got, "<i>") || strings.Contains(got, "<b>") {
			t.Errorf("rule read as emphasis in %q:\n  got: %q", input, got)
		}
	}
}

func TestRenderHTML_bulletList(t *testing.T) {
	got := RenderHTML("- first item\n- second item\n* third item")
	if !strings.Contains(got, "• first item") {
		t.Errorf("dash bullet not converted:\n  got: %q", got)
	}
	if !strings.Contains(got, "• third item") {
		t.Errorf("asterisk bullet not converted:\n  got: %q", got)
	}
}

func TestEscapeText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello world", "hello world"},
		{"a & b", "a &amp; b"},
		{"a < b > c", "a &lt; b &gt; c"},
		{"<b>bold & stuff</b>", "&lt;b&gt;bold &amp; stuff&lt;/b&gt;"},
		{"&amp;", "&amp;amp;"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := escapeText(tt.input); got != tt.want {
			t.Errorf("escapeText(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEscapeAttr(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{`say "hi"`, "say &quot;hi&quot;"},
		{"it's", "it&#39;s"},
		{"a & b", "a &amp; b"},
		{`<a href="x?q=1&v='2'">`, "&lt;a href=&quot;x?q=1&amp;v=&#39;2&#39;&quot;&gt;"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := escapeAttr(tt.input); got != tt.want {
			t.Errorf("escapeAttr(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTableCells(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"outer pipes", "| Alice | 30 |", []string{"Alice", "30"}},
		{"no outer pipes", "Alice | 30", []string{"Alice", "30"}},
		{"padded cells", "|  foo  |  bar  |", []string{"foo", "bar"}},
		{"empty cells", "| | |", []string{"", ""}},
		{"single cell", "| hello |", []string{"hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tableCells(tt.line)
			if len(got) != len(tt.want) {
				t.Fatalf("tableCells(%q) = %q, want %q", tt.line, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("cell %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAlignTable(t *testing.T) {
	t.Run("columns padded to common width", func(t *testing.T) {
		got := alignTable([]string{"Name", "Age"}, [][]string{{"Alice", "30"}, {"Bob", "25"}})
		t.Logf("aligned:\n%s", got)
		lines := strings.Split(got, "\n")
		if len(lines) != 4 {
			t.Fatalf("got %d lines, want 4", len(lines))
		}
		if !strings.Contains(lines[1], "─┼─") {
			t.Error("separator line missing")
		}
		width := utf8.RuneCountInString(lines[0])
		for i, l := range lines[1:] {
			if utf8.RuneCountInString(l) != width {
				t.Errorf("line %d is %d runes wide, header is %d", i+1, utf8.RuneCountInString(l), width)
			}
		}
	})

	t.Run("no header no output", func(t *testing.T) {
		if got := alignTable(nil, nil); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})

	t.Run("oversized cell squeezed", func(t *testing.T) {
		got := alignTable([]string{"X"}, [][]string{{strings.Repeat("a", tableColMax+20)}})
		if !strings.Contains(got, "~") {
			t.Error("long cell should be cut with a ~ marker")
		}
		for _, l := range strings.Split(got, "\n") {
			if utf8.RuneCountInString(l) > tableColMax {
				t.Errorf("line wider than the column cap: %q", l)
			}
		}
	})
}

func TestLiftTables(t *testing.T) {
	t.Run("table becomes a protected region", func(t *testing.T) {
		var r renderer
		got := r.liftTables("| Name | Age |\n|---|---|\n| Alice | 30 |")
		if strings.Contains(got, "|---|") {
			t.Error("separator row should be consumed")
		}
		if len(r.regions) != 1 {
			t.Fatalf("got %d regions, want 1", len(r.regions))
		}
		region := r.regions[0]
		if !strings.HasPrefix(region, "<pre><code>") {
			t.Errorf("region not wrapped in <pre><code>: %q", region)
		}
		if !strings.Contains(region, "Name") || !strings.Contains(region, "Alice") {
			t.Error("region should hold the table content")
		}
	})

	t.Run("plain text untouched", func(t *testing.T) {
		var r renderer
		input := "hello\nworld"
		if got := r.liftTables(input); got != input {
			t.Errorf("got %q, want input unchanged", got)
		}
		if len(r.regions) != 0 {
			t.Errorf("got %d regions, want 0", len(r.regions))
		}
	})
}
