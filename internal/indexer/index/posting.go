package index

// Posting records how often a term occurs in one document.
type Posting struct {
	DocID     uint32
	Frequency uint32
}

// PostingList holds the postings of one term ordered by ascending DocID.
type PostingList []Posting

// CorpusStats are computed once at build time.
type CorpusStats struct {
	DocCount     int
	TotalLength  uint64
	AvgDocLength float64
}

func newCorpusStats(docLengths []uint32) CorpusStats {
	var total uint64
	for _, l := range docLengths {
		total += uint64(l)
	}
	stats := CorpusStats{DocCount: len(docLengths), TotalLength: total}
	if stats.DocCount > 0 {
		stats.AvgDocLength = float64(total) / float64(stats.DocCount)
	}
	return stats
}
