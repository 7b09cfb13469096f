package polygon

// Wire shapes for the REST endpoints. Only the fields the scanner depends on
// are decoded; everything else in the provider payloads is ignored.

// SnapshotTicker is one entry of the gainers snapshot.
type SnapshotTicker struct {
	Ticker           string  `json:"ticker"`
	TodaysChangePerc float64 `json:"todaysChangePerc"`
	LastTrade        struct {
		P float64 `json:"p"`
	} `json:"lastTrade"`
	PrevDay struct {
		C float64 `json:"c"`
	} `json:"prevDay"`
	Min struct {
		AV int64 `json:"av"` // cumulative session volume
	} `json:"min"`
	Day struct {
		H float64 `json:"h"` // RTH-only high; never used as HOD
	} `json:"day"`
}

type gainersResponse struct {
	Tickers []SnapshotTicker `json:"tickers"`
}

// GroupedBar is one symbol's daily bar from the grouped-daily endpoint.
type GroupedBar struct {
	Ticker string  `json:"T"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type groupedResponse struct {
	Results []GroupedBar `json:"results"`
}

type aggBar struct {
	T      int64   `json:"t"` // epoch ms, bucket start
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type aggsResponse struct {
	Results []aggBar `json:"results"`
}

type tickerDetailsResponse struct {
	Results struct {
		Type string `json:"type"` // "CS" for common stock
	} `json:"results"`
}

type emaResponse struct {
	Results struct {
		Values []struct {
			Value float64 `json:"value"`
		} `json:"values"`
	} `json:"results"`
}

type openCloseResponse struct {
	Open float64 `json:"open"`
}
