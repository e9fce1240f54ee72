package signature

// Default returns the registry shipped with the service.
func Default() *Registry {
	return NewRegistry(surroundedByIdiots)
}

var surroundedByIdiots = Signature{
	Name:           "surroundedByIdiots",
	TitlePatterns:  []string{"surrounded by idiots"},
	AuthorPatterns: []string{"thomas erikson"},
	UniquePhrases: []string{
		"disc",
		"personality type",
		"red personality",
		"blue personality",
		"yellow personality",
		"green personality",
		"communication",
	},
	WordCombinations: [][]string{
		{"red", "blue", "green", "yellow", "personality"},
		{"dominance", "influence", "steadiness", "compliance"},
	},
	Metadata: Metadata{
		Title:           "Surrounded by Idiots",
		Author:          "Thomas Erikson",
		Description:     "A revolutionary method for understanding yourself and others by learning to identify the four main personality types.",
		ISBN:            "9781250179944",
		Publisher:       "St. Martin's Essentials",
		PublicationDate: "2019-07-30",
		Tags:            []string{"psychology", "personality", "communication", "self-help", "business"},
	},
	Features: &FeatureHint{
		Triggers: []Trigger{
			{All: []string{"surrounded by idiots"}},
			{
				All: []string{"disc", "personality"},
				Any: []string{"red personality", "blue personality", "green personality", "yellow personality"},
			},
		},
		Keywords:   []string{"disc", "personality-types", "communication-styles"},
		Categories: []string{"psychology", "self-help", "business-communication"},
	},
	Analysis: &AnalysisRule{
		Required:    []string{"surrounded by idiots", "red", "blue", "green", "yellow", "personality", "disc"},
		Confidence:  0.95,
		Description: "A book about understanding the four main personality types.",
		Tags:        []string{"psychology", "self-help", "business", "communication"},
	},
}
