package ingest

import "testing"

func TestSameArchiveEntry(t *testing.T) {
	cases := []struct {
		name string
		a, b Identifiers
		want bool
	}{
		{"origin origin", Identifiers{OriginID: "o1"}, Identifiers{OriginID: "o1"}, true},
		{"origin stanza", Identifiers{OriginID: "x"}, Identifiers{StanzaID: "x"}, true},
		{"stanza origin", Identifiers{StanzaID: "x"}, Identifiers{OriginID: "x"}, true},
		{"stanza stanza", Identifiers{StanzaID: "s1"}, Identifiers{StanzaID: "s1"}, true},
		{"stanza cursor", Identifiers{StanzaID: "c1"}, Identifiers{ArchiveCursor: "c1"}, true},
		{"cursor cursor", Identifiers{ArchiveCursor: "c1"}, Identifiers{ArchiveCursor: "c1"}, true},
		{"cursor stanza is not matched", Identifiers{ArchiveCursor: "x"}, Identifiers{StanzaID: "x"}, false},
		{"origin cursor is not matched", Identifiers{OriginID: "x"}, Identifiers{ArchiveCursor: "x"}, false},
		{"different ids", Identifiers{OriginID: "o1", StanzaID: "s1"}, Identifiers{OriginID: "o2", StanzaID: "s2"}, false},
		{"empty never matches", Identifiers{}, Identifiers{}, false},
		{"empty origin vs empty stanza", Identifiers{OriginID: ""}, Identifiers{StanzaID: ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SameArchiveEntry(tc.a, tc.b); got != tc.want {
				t.Fatalf("SameArchiveEntry(%+v, %+v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
