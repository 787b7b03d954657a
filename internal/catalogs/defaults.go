package catalogs

var defaultBlocks = map[string]string{
	"stone":         "#7d7d7d",
	"granite":       "#9a6a55",
	"diorite":       "#bcbcbc",
	"andesite":      "#888888",
	"bedrock":       "#3a3a3a",
	"gravel":        "#857f7c",
	"dirt":          "#866043",
	"grass_block":   "#5f9f35",
	"grass":         "#5f9f35",
	"tall_grass":    "#6aa83f",
	"sand":          "#dbd3a0",
	"sandstone":     "#d8cb9b",
	"water":         "#3f76e4",
	"lava":          "#d4600e",
	"ice":           "#91b4fe",
	"snow":          "#f9fefe",
	"snow_block":    "#f0fbfb",
	"clay":          "#a0a6b3",
	"coal_ore":      "#737373",
	"iron_ore":      "#877f76",
	"gold_ore":      "#8f8c7d",
	"oak_log":       "#6b5433",
	"oak_leaves":    "#3b7a1f",
	"birch_leaves":  "#5f8a3e",
	"spruce_leaves": "#3d5e3d",
	"cactus":        "#0e7b1c",
	"dead_bush":     "#946428",
	"cobblestone":   "#7a7a7a",
	"oak_planks":    "#a2834f",
	"glass":         "#c0f5fe",
	"netherrack":    "#6f3535",
}

var defaultBiomes = map[int]string{
	0:  "#000070",
	1:  "#8db360",
	2:  "#fa9418",
	3:  "#606060",
	4:  "#056621",
	5:  "#0b6659",
	6:  "#07f9b2",
	7:  "#0000ff",
	12: "#ffffff",
	16: "#fade55",
	24: "#000030",
	35: "#bdb25f",
}
