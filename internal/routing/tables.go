package routing

// SubjectKeywords lists the keywords that vote for one subject.
type SubjectKeywords struct {
	Name     string   `toml:"name"`
	Keywords []string `toml:"keywords"`
}

// QueryPattern names a query type and the case-insensitive regex that detects it.
type QueryPattern struct {
	Name    string `toml:"name"`
	Pattern string `toml:"pattern"`
}

// Tables is the static data a Router classifies with. Order matters: subjects
// earlier in the list win score ties, and the first matching query pattern wins.
type Tables struct {
	Subjects       []SubjectKeywords `toml:"subjects"`
	QueryTypes     []QueryPattern    `toml:"query_types"`
	NonEducational []string          `toml:"non_educational"`
}

// DefaultTables returns the built-in keyword and pattern tables.
func DefaultTables() Tables {
	return Tables{
		Subjects: []SubjectKeywords{
			{Name: "mathematics", Keywords: []string{
				"math", "number", "add", "subtract", "multiply", "divide", "fraction", "decimal",
				"prime", "even", "odd", "area", "perimeter", "angle", "line", "shape", "geometry",
				"algebra", "equation", "formula", "calculate", "solve", "pattern", "ratio",
				"proportion", "percentage", "graph", "chart", "data", "statistics", "symmetry",
				"integer", "whole", "natural", "counting", "measurement", "construction", "theorem",
			}},
			{Name: "science", Keywords: []string{
				"science", "physics", "chemistry", "biology", "experiment", "lab", "element",
				"compound", "reaction", "cell", "organism", "energy", "force", "motion", "light",
				"sound", "heat", "electricity", "magnet", "planet", "solar", "ecosystem", "habitat",
			}},
			{Name: "english", Keywords: []string{
				"english", "grammar", "noun", "verb", "adjective", "sentence", "paragraph", "essay",
				"story", "poem", "literature", "reading", "writing", "comprehension", "vocabulary",
				"spelling", "pronunciation", "tense", "punctuation", "composition",
			}},
			{Name: "history", Keywords: []string{
				"history", "ancient", "medieval", "modern", "civilization", "empire", "kingdom",
				"ruler", "dynasty", "war", "battle", "culture", "tradition", "monument", "artifact",
				"timeline", "period", "century", "historical", "heritage",
			}},
			{Name: "geography", Keywords: []string{
				"geography", "map", "continent", "country", "state", "city", "river", "mountain",
				"ocean", "sea", "climate", "weather", "population", "capital", "natural", "resource",
				"physical", "political", "economic", "agriculture", "industry",
			}},
		},
		QueryTypes: []QueryPattern{
			{Name: "what_is", Pattern: `\b(what\s+is|what\s+are|what\s+does|what\s+do)\b`},
			{Name: "how_to", Pattern: `\b(how\s+to|how\s+do|how\s+can|how\s+does)\b`},
			{Name: "explain", Pattern: `\b(explain|describe|define|tell\s+me\s+about)\b`},
			{Name: "solve", Pattern: `\b(solve|calculate|find|compute|determine)\b`},
			{Name: "compare", Pattern: `\b(compare|difference|between|versus|vs)\b`},
			{Name: "list", Pattern: `\b(list|enumerate|name|types\s+of|kinds\s+of)\b`},
		},
		NonEducational: []string{
			`\b(weather|temperature|forecast|rain|sunny|cloudy)\b`,
			`\b(hello|hi|hey|good\s+morning|good\s+evening|how\s+are\s+you)\b`,
			`\b(news|current\s+events|politics|election|government)\b`,
			`\b(sports|football|cricket|basketball|game|match)\b`,
			`\b(movie|film|entertainment|celebrity|actor|actress)\b`,
			`\b(food|recipe|cooking|restaurant|menu)\b`,
		},
	}
}
