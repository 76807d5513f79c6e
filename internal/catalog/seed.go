package catalog

import "github.com/ohmystock/ohmystock/internal/domain"

// SeedVersion identifies the built-in seed snapshot.
const SeedVersion = "seed-2025-08"

// Seed returns the built-in security list used when no external catalog
// loader is configured. The loader contract is external to the core.
func Seed() []Security {
	return []Security{
		{Ticker: "AAPL", Name: "Apple Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "MSFT", Name: "Microsoft Corporation", Market: domain.MarketUS, Active: true},
		{Ticker: "GOOGL", Name: "Alphabet Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "AMZN", Name: "Amazon.com Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "NVDA", Name: "NVIDIA Corporation", Market: domain.MarketUS, Active: true},
		{Ticker: "TSLA", Name: "Tesla Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "META", Name: "Meta Platforms Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "NFLX", Name: "Netflix Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "AMD", Name: "Advanced Micro Devices Inc.", Market: domain.MarketUS, Active: true},
		{Ticker: "INTC", Name: "Intel Corporation", Market: domain.MarketUS, Active: true},
		{Ticker: "TWTR", Name: "Twitter Inc.", Market: domain.MarketUS, Active: false},

		{Ticker: "005930", Name: "삼성전자", Market: domain.MarketKR, Active: true},
		{Ticker: "000660", Name: "SK하이닉스", Market: domain.MarketKR, Active: true},
		{Ticker: "373220", Name: "LG에너지솔루션", Market: domain.MarketKR, Active: true},
		{Ticker: "035420", Name: "NAVER", Market: domain.MarketKR, Active: true},
		{Ticker: "035720", Name: "카카오", Market: domain.MarketKR, Active: true},
		{Ticker: "005380", Name: "현대차", Market: domain.MarketKR, Active: true},
		{Ticker: "051910", Name: "LG화학", Market: domain.MarketKR, Active: true},
		{Ticker: "006400", Name: "삼성SDI", Market: domain.MarketKR, Active: true},
		{Ticker: "068270", Name: "셀트리온", Market: domain.MarketKR, Active: true},
		{Ticker: "105560", Name: "KB금융", Market: domain.MarketKR, Active: true},
	}
}
