package main

// Static matching taxonomies. These are product configuration frozen at build
// time: built once, never mutated after init.

// semanticGroups awards partial credit for related-but-not-identical
// interests in the analog/digital dimensions.
var semanticGroups = map[string][]string{
	"music":       {"music", "singing", "piano", "guitar", "drums", "composition", "recording"},
	"visual-arts": {"art", "painting", "drawing", "photography", "design", "graphics"},
	"tech":        {"programming", "coding", "software", "hardware", "electronics", "robotics"},
	"crafts":      {"knitting", "sewing", "woodworking", "pottery", "jewelry", "crafting"},
	"games":       {"gaming", "boardgames", "videogames", "rpg", "strategy", "puzzle"},
	"outdoor":     {"hiking", "cycling", "running", "camping", "climbing", "nature"},
	"food":        {"cooking", "baking", "brewing", "wine", "coffee", "culinary"},
	"fitness":     {"yoga", "martial arts", "gym", "sports", "dance", "fitness"},
}

// collaborationKeywords score highest when present in both texts.
var collaborationKeywords = []string{"d&d", "teaching", "learning", "collaborative"}

// complementaryPairs match a primary term in one text against its complements
// in the other, in either direction.
var complementaryPairs = map[string][]string{
	"teach":  {"learn", "student", "beginner"},
	"mentor": {"mentee", "guidance"},
	"code":   {"programming", "development"},
}

// collaborationCategories give a small bonus when both texts fall in the same
// activity bucket.
var collaborationCategories = map[string][]string{
	"creative":    {"art", "design", "music", "writing", "craft", "creative"},
	"technical":   {"code", "programming", "tech", "computer", "digital"},
	"social":      {"group", "team", "community", "meetup", "social"},
	"educational": {"teach", "learn", "study", "workshop", "class"},
	"gaming":      {"game", "gaming", "play", "rpg", "board"},
}

var cuisineFamilies = map[string][]string{
	"asian":    {"chinese", "japanese", "thai", "korean", "vietnamese", "indian"},
	"european": {"italian", "french", "german", "spanish", "greek"},
	"healthy":  {"vegan", "vegetarian", "organic", "salad"},
}

var genreFamilies = map[string][]string{
	"rock":       {"rock", "metal", "punk", "alternative", "grunge"},
	"electronic": {"techno", "house", "edm", "ambient", "synth"},
	"jazz":       {"jazz", "blues", "swing", "bebop"},
}
