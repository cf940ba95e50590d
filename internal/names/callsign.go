// Package names generates call signs for agents that register without one.
// Call signs are lowercase kebab-case so they can be used directly in
// "project:name" addresses and URLs.
package names

import (
	"fmt"
	"math/rand"
	"time"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

var adjectives = []string{
	"amber", "ashen", "bold", "brisk", "bronze", "calm",
	"candid", "cobalt", "copper", "crimson", "deft", "dusky",
	"eager", "feral", "fleet", "gilded", "hollow", "iron",
	"ivory", "jade", "keen", "lucid", "mellow", "nimble",
	"oblique", "pale", "quiet", "rapid", "rustic", "sable",
	"silent", "sly", "solemn", "stark", "swift", "tidal",
	"umber", "vivid", "wry", "zesty",
}

var animals = []string{
	"badger", "bittern", "carp", "condor", "crane", "dingo",
	"egret", "falcon", "ferret", "finch", "gannet", "gecko",
	"heron", "hawk", "ibis", "jackal", "kestrel", "lemur",
	"lynx", "magpie", "marten", "mole", "newt", "ocelot",
	"osprey", "otter", "owl", "pika", "plover", "raven",
	"shrike", "skink", "stoat", "swift", "tapir", "tern",
	"viper", "vole", "wren", "yak",
}

// Generate returns a random call sign such as "copper-hawk".
func Generate() string {
	return adjectives[rng.Intn(len(adjectives))] + "-" + animals[rng.Intn(len(animals))]
}

// GenerateN returns a call sign carrying a numeric disambiguator, used when
// the plain form is already taken within a project.
func GenerateN(n int) string {
	return fmt.Sprintf("%s-%d", Generate(), n)
}
