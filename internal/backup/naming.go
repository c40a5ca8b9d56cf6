package backup

import (
	"regexp"
	"strings"
	"time"
)

const (
	PrefixMySQL  = "mysql_"
	PrefixMongo  = "mongo_"
	PrefixVolume = "volume_"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func validName(s string) bool { return namePattern.MatchString(s) }

// Timestamp renders t as UTC ISO-8601 with millisecond precision, with ':'
// and '.' replaced by '-' so it is safe in file names.
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

func dumpFileName(kind DatabaseKind, database string, t time.Time) string {
	if kind == KindDocument {
		return PrefixMongo + database + "_" + Timestamp(t) + ".archive"
	}
	return PrefixMySQL + database + "_" + Timestamp(t) + ".sql"
}

func volumeFileName(volume string, t time.Time) string {
	return PrefixVolume + volume + "_" + Timestamp(t) + ".tar"
}

// KindOf maps a backup file name to its group by prefix. Unknown names are
// "other".
func KindOf(name string) string {
	switch {
	case strings.HasPrefix(name, PrefixMySQL):
		return "mysql"
	case strings.HasPrefix(name, PrefixMongo):
		return "mongo"
	case strings.HasPrefix(name, PrefixVolume):
		return "volume"
	}
	return "other"
}
