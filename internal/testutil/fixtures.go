package testutil

import (
	"fmt"
	"testing"

	"github.com/rebrick/rebrick/internal/classifier"
	"github.com/rebrick/rebrick/internal/model"
)

// SiteURL is the restaurant every fixture page belongs to.
const SiteURL = "https://trattoria-roma.example"

// HomePage is a landing page with a hero image and an intro paragraph.
func HomePage() classifier.Page {
	return classifier.Page{
		URL:   SiteURL + "/",
		Title: "Trattoria Roma | Authentic Italian in Springfield",
		Text:  "Trattoria Roma\n\n" +
			"Since 1962 our family has served handmade pasta, wood-fired pizza and slow-cooked sauces to Springfield.\n\n" +
			"Reserve a table",
		Images: []classifier.Image{
			{URL: SiteURL + "/img/dining-room.jpg", Alt: "Dining room", Width: 1600, Height: 900},
			{URL: SiteURL + "/img/logo.png", Alt: "Trattoria Roma"},
		},
	}
}

// MenuPage lists seven priced dishes.
func MenuPage() classifier.Page {
	return classifier.Page{
		URL:   SiteURL + "/menu",
		Title: "Menu | Trattoria Roma",
		Text:  "Antipasti\n" +
			"Bruschetta al pomodoro $9.50\n" +
			"Calamari fritti $13.00\n" +
			"Primi\n" +
			"Spaghetti carbonara $18.00\n" +
			"Tagliatelle al ragù $19.50\n" +
			"Lasagna della nonna $21.00\n" +
			"Dolci\n" +
			"Tiramisu della casa $8.00\n" +
			"Panna cotta ai frutti $7.50\n",
	}
}

// AboutPage tells the restaurant's story in two long paragraphs.
func AboutPage() classifier.Page {
	return classifier.Page{
		URL:   SiteURL + "/about",
		Title: "Our Story | Trattoria Roma",
		Text:  "Nonna Lucia opened Trattoria Roma in 1962 with four tables and a single pasta machine.\n\n" +
			"Today her grandchildren run the kitchen, still rolling every sheet of pasta by hand each morning.\n\n" +
			"Grazie!",
	}
}

// ContactPage carries an address, a phone number and an email.
func ContactPage() classifier.Page {
	return classifier.Page{
		URL:   SiteURL + "/contact",
		Title: "Contact | Trattoria Roma",
		Text:  "Visit us at 123 Main Street, Springfield, IL 62704\n" +
			"Call (555) 123-4567\n" +
			"Write to ciao@trattoria-roma.example\n",
	}
}

// GalleryPage has a dozen photos.
func GalleryPage() classifier.Page {
	images := make([]classifier.Image, 0, 12)
	for i := 1; i <= 12; i++ {
		images = append(images, classifier.Image{
			URL: fmt.Sprintf("%s/img/gallery-%02d.jpg", SiteURL, i),
			Alt: fmt.Sprintf("Photo %d", i),
		})
	}
	return classifier.Page{
		URL:    SiteURL + "/gallery",
		Title:  "Gallery | Trattoria Roma",
		Text:   "A look inside our kitchen and dining room.",
		Images: images,
	}
}

// HoursPage lists opening hours for every weekday.
func HoursPage() classifier.Page {
	return classifier.Page{
		URL:   SiteURL + "/hours",
		Title: "Opening Hours | Trattoria Roma",
		Text:  "Monday: Closed\n" +
			"Tuesday: 11am - 10pm\n" +
			"Wednesday: 11am - 10pm\n" +
			"Thursday: 11am - 10pm\n" +
			"Friday: 11am - 11pm\n" +
			"Saturday: 10am - 11pm\n" +
			"Sunday: 10am - 9pm\n",
	}
}

// RestaurantPages returns every fixture page, homepage first.
func RestaurantPages() []classifier.Page {
	return []classifier.Page{HomePage(), MenuPage(), AboutPage(), ContactPage(), GalleryPage(), HoursPage()}
}

// NewTestTemplate builds a valid template.
func NewTestTemplate(t testing.TB) *model.PageTemplate {
	t.Helper()
	tpl, err := model.NewPageTemplate("test-bistro", model.TemplateModern,
		model.Layout{HeaderStyle: "sticky", FooterStyle: "simple", SectionSpacing: 80, HeroStyle: "full"},
		model.ColorScheme{Primary: "#8b0000", Secondary: "#2f2f2f", Accent: "#d4a017", Background: "#ffffff", Text: "#1a1a1a"},
		model.Typography{HeadingFont: "Playfair Display", BodyFont: "Lato"},
	)
	if err != nil {
		t.Fatalf("NewPageTemplate: %v", err)
	}
	return tpl
}
