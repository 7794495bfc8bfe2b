package extract

import (
	"strings"
	"testing"

	"github.com/rebrick/rebrick/internal/classifier"
	"github.com/rebrick/rebrick/internal/model"
)

const menuHTML = `<!doctype html>
<html>
<head>
  <title>  Dinner Menu | Trattoria Roma </title>
  <script>var tracking = "$99 $99 $99";</script>
</head>
<body>
  <nav><a href="/">Home</a><a href="/menu">Menu</a></nav>
  <h1>Our Menu</h1>
  <p>Everything is made in house, every day, from flour to tomato sauce.</p>
  <ul>
    <li>Bruschetta al pomodoro $9.50</li>
    <li>Calamari fritti $13.00</li>
    <li>Spaghetti carbonara $18.00</li>
  </ul>
  <table>
    <tr><td>Tiramisu della casa</td><td>$8.00</td></tr>
  </table>
  <img src="/img/pasta.jpg" alt=" Fresh pasta " width="800" height="600">
  <img data-src="https://cdn.example/lazy.jpg">
  <img src="data:image/gif;base64,R0lGOD">
  <footer>Call (555) 123-4567 or email ciao@roma.example</footer>
</body>
</html>`

func TestFromHTML(t *testing.T) {
	t.Parallel()

	page, err := FromHTML("https://roma.example/menu", []byte(menuHTML))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	if page.Title != "Dinner Menu | Trattoria Roma" {
		t.Errorf("Title = %q", page.Title)
	}
	wantText := "Our Menu\n\n" +
		"Everything is made in house, every day, from flour to tomato sauce.\n\n" +
		"Bruschetta al pomodoro $9.50\n" +
		"Calamari fritti $13.00\n" +
		"Spaghetti carbonara $18.00\n\n" +
		"Tiramisu della casa $8.00"
	if page.Text != wantText {
		t.Errorf("Text =\n%s\nwant\n%s", page.Text, wantText)
	}
	if strings.Contains(page.Text, "tracking") || strings.Contains(page.Text, "555") {
		t.Error("script and footer text should be stripped")
	}

	if len(page.Images) != 2 {
		t.Fatalf("len(Images) = %d, want 2", len(page.Images))
	}
	first := page.Images[0]
	if first.URL != "https://roma.example/img/pasta.jpg" || first.Alt != "Fresh pasta" || first.Width != 800 || first.Height != 600 {
		t.Errorf("Images[0] = %+v", first)
	}
	if page.Images[1].URL != "https://cdn.example/lazy.jpg" {
		t.Errorf("Images[1].URL = %q", page.Images[1].URL)
	}
}

func TestFromHTML_FeedsClassifier(t *testing.T) {
	t.Parallel()

	page, err := FromHTML("https://roma.example/p/42", []byte(menuHTML))
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if got := classifier.Classify(page).Type; got != model.PageMenu {
		t.Errorf("Classify = %s, want menu", got)
	}
	blocks := classifier.ExtractBlocks(page, model.PageMenu)
	items := blocks[0].Content["items"].([]any)
	if len(items) != 4 {
		t.Errorf("menu items = %d, want 4", len(items))
	}
}

func TestFromHTML_TitleFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{name: "og title", html: `<head><meta property="og:title" content="Roma Hours"></head><body><h1>Hours</h1></body>`, want: "Roma Hours"},
		{name: "h1", html: `<body><h1> Visit   Us </h1></body>`, want: "Visit Us"},
		{name: "none", html: `<body><p>hi</p></body>`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page, err := FromHTML("https://roma.example/x", []byte(tt.html))
			if err != nil {
				t.Fatalf("FromHTML: %v", err)
			}
			if page.Title != tt.want {
				t.Errorf("Title = %q, want %q", page.Title, tt.want)
			}
		})
	}
}

func TestFromHTML_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := FromHTML("http://[::1", []byte("<p>x</p>")); err == nil {
		t.Error("expected error for unparseable page url")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := classifier.Page{URL: "https://roma.example/menu", Title: "Menu", Text: "Pasta $12"}
	b := a
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical pages should share a fingerprint")
	}
	if len(Fingerprint(a)) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(Fingerprint(a)))
	}

	b.Text = "Pasta $13"
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("text change should change the fingerprint")
	}

	c := a
	c.Images = []classifier.Image{{URL: "https://roma.example/a.jpg"}}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("image count change should change the fingerprint")
	}

	// Field boundaries matter.
	d := classifier.Page{URL: "ab", Title: "c"}
	e := classifier.Page{URL: "a", Title: "bc"}
	if Fingerprint(d) == Fingerprint(e) {
		t.Error("moving bytes between fields should change the fingerprint")
	}
}
