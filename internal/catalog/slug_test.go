package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Baguette Tradition":        "baguette-tradition",
		"Pain au Chocolat":          "pain-au-chocolat",
		"Éclair au Café":            "eclair-au-cafe",
		"Mille-feuille":             "mille-feuille",
		"Tarte  aux   Pommes":       "tarte-aux-pommes",
		"  Brioche   ":              "brioche",
		"Chou à la Crème":           "chou-a-la-creme",
		"Pain d'Épices":             "pain-d-epices",
		"Galette des Rois 2025":     "galette-des-rois-2025",
		"Nœud au Beurre":            "noeud-au-beurre",
		"Croissant!!!":              "croissant",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
}
