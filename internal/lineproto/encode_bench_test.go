package lineproto

import "testing"

func BenchmarkEncode(b *testing.B) {
	p := Point{
		Measurement:    "living_temperature",
		Tags:           map[string]string{"room": "living", "floor": "ground", "source": "hm-rpc"},
		Trigger:        "change",
		Value:          21.5,
		TimestampNanos: 1718000000000000000,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Encode(p)
	}
}
