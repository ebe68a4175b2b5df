package roomid

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"owl", "beaver", "dolphin", "penguin", "robin", "toucan", "parrot", "narwhal", "seal", "llama",
}

var subjects = []string{
	"algebra", "biology", "calculus", "chemistry", "physics", "history", "poetry", "latin", "geometry", "statistics",
	"economics", "botany", "logic", "grammar", "astronomy", "geology", "ethics", "music", "drawing", "coding",
}

var supplies = []string{
	"pencil", "eraser", "notebook", "binder", "marker", "crayon", "ruler", "compass", "stapler", "folder",
	"backpack", "lamp", "globe", "easel", "sticky", "index", "flashcard", "chalk", "inkpot", "bookmark",
}

var snacks = []string{
	"pancake", "waffle", "muffin", "cocoa", "biscuit", "cupcake", "toffee", "pretzel", "popcorn", "bagel",
	"noodle", "dumpling", "cookie", "brownie", "granola", "smoothie", "donut", "scone", "crumble", "taffy",
}

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "curious", "brave", "calm", "swift", "quiet", "bouncy", "fuzzy", "clever", "merry",
}

var places = []string{
	"library", "attic", "meadow", "canyon", "harbor", "orchard", "lantern", "cottage", "comet", "orbit",
	"nebula", "ridge", "garden", "lagoon", "summit", "island", "tower", "valley", "grove", "bridge",
}

var pools = [][]string{animals, subjects, supplies, snacks, adjectives, places}
