package pep440

import "testing"

var benchVersions = []string{
	"1.0", "1.0.post1", "1.0rc1", "2.0.dev3", "1!0.1", "0.9", "1.0a2",
	"3.0.0", "2.5.1", "not-a-version", "1.0+local.7", "2.0b1",
}

func BenchmarkParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Parse(benchVersions[i%len(benchVersions)])
	}
}

func BenchmarkLatest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = Latest(benchVersions)
	}
}

func BenchmarkSort(b *testing.B) {
	versions := make([]string, len(benchVersions))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(versions, benchVersions)
		Sort(versions)
	}
}
