package cli

import (
	"fmt"

	"quest-party-service/internal/domain"
)

// samplePool provides a starter question pool; swap in the Postgres loader by
// configuring a database URL.
func samplePool() []domain.PoolQuestion {
	base := []domain.PoolQuestion{
		{ID: "q-capital-france", Prompt: "What is the capital of France?", Correct: "Paris", Wrong: []string{"Lyon", "Marseille", "Nice"}},
		{ID: "q-largest-planet", Prompt: "Which is the largest planet in the solar system?", Correct: "Jupiter", Wrong: []string{"Saturn", "Neptune", "Earth"}},
		{ID: "q-water-formula", Prompt: "What is the chemical formula of water?", Correct: "H2O", Wrong: []string{"CO2", "O2", "NaCl"}},
		{ID: "q-primes", Prompt: "Which of these is a prime number?", Correct: "13", Wrong: []string{"9", "15", "21"}},
		{ID: "q-continents", Prompt: "How many continents are there?", Correct: "7", Wrong: []string{"5", "6", "8"}},
		{ID: "q-speed-light", Prompt: "Roughly how fast is light in a vacuum?", Correct: "300,000 km/s", Wrong: []string{"150,000 km/s", "3,000 km/s", "30,000 km/s"}},
		{ID: "q-longest-river", Prompt: "What is the longest river in the world?", Correct: "The Nile", Wrong: []string{"The Amazon", "The Yangtze", "The Mississippi"}},
		{ID: "q-human-bones", Prompt: "How many bones does an adult human have?", Correct: "206", Wrong: []string{"186", "226", "246"}},
		{ID: "q-mona-lisa", Prompt: "Who painted the Mona Lisa?", Correct: "Leonardo da Vinci", Wrong: []string{"Michelangelo", "Raphael", "Botticelli"}},
		{ID: "q-smallest-country", Prompt: "What is the smallest country in the world?", Correct: "Vatican City", Wrong: []string{"Monaco", "San Marino", "Liechtenstein"}},
		{ID: "q-binary", Prompt: "What is 1011 in binary as a decimal number?", Correct: "11", Wrong: []string{"9", "13", "15"}},
		{ID: "q-oceans", Prompt: "Which is the largest ocean?", Correct: "Pacific", Wrong: []string{"Atlantic", "Indian", "Arctic"}},
	}
	return base
}

// sampleQuests provides a starter quest catalog.
func sampleQuests() []domain.Quest {
	quests := make([]domain.Quest, 0, 8)
	for i, title := range []string{
		"Walk 2 km in one outing",
		"Visit a landmark in your city",
		"Win a multiplayer quiz",
		"Answer five questions correctly in a row",
		"Play a quiz with a full party",
		"Finish a quiz without a timeout",
		"Reach a new area on the map",
		"Invite a friend to a party",
	} {
		quests = append(quests, domain.Quest{
			ID:    fmt.Sprintf("quest-%02d", i+1),
			Title: title,
			Exp:   150 + 50*(i%4),
		})
	}
	return quests
}
