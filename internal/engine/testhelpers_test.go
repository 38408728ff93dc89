package engine

// defaultTestConfig returns the stock defaults as an engine.Config, used
// across this package's tests so each test only states what it deviates
// from. Loss probability is zeroed so scenarios are fully deterministic.
func defaultTestConfig() Config {
	return Config{
		TickStepS: 0.02,
		MAC: MACConfig{
			SlotMs:          10,
			QueueCapacity:   50,
			CWMin:           16,
			CWMax:           1024,
			RetryLimit:      7,
			BaseLossProb:    0,
			CollisionLosses: true,
			Seed:            123,
		},
		RouteAdIntervalS: 2.0,
		MQTTIntervalS:    0.1,
		AckTimeoutS:      5.0,
		MaxRetries:       3,
		KeepAliveS:       60,
		DisconnectMult:   1.5,
		MaxReconnects:    5,
		PublisherAcks:    false,
		Bounds:           Bounds{MinX: 0, MinY: 0, MaxX: 400, MaxY: 233},
		PHY: map[string]PHYProfile{
			"WiFi": {Range: 55, DataRateBps: 54000, IdleEnergy: 0.5, SleepEnergy: 0.05},
			"BLE":  {Range: 15, DataRateBps: 1000, IdleEnergy: 0.1, SleepEnergy: 0.01},
		},
	}
}

func findRoute(routes []RouteEntry, dest int) (RouteEntry, bool) {
	for _, r := range routes {
		if r.Dest == dest {
			return r, true
		}
	}
	return RouteEntry{}, false
}
