package datasrc

import (
	"strings"

	"github.com/miekg/dns"
)

// RRClass identifies a DNS RR class (IN, CH, ...). It is the key type
// of the client-list map.
type RRClass uint16

// ParseRRClass parses a class string such as "IN" or "CH". It returns
// *InvalidRRClass if the string does not name a supported class.
func ParseRRClass(s string) (RRClass, error) {
	c, ok := dns.StringToClass[strings.ToUpper(s)]
	if !ok {
		return 0, &InvalidRRClass{Class: s}
	}
	return RRClass(c), nil
}

// String renders the class back to its canonical name.
func (c RRClass) String() string {
	if s, ok := dns.ClassToString[uint16(c)]; ok {
		return s
	}
	return "CLASS" + itoa(uint16(c))
}

func itoa(n uint16) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// NormalizeOrigin validates and canonicalizes a zone origin name,
// returning it as a lower-cased, fully-qualified domain name. It
// returns *EmptyLabel if the name does not parse (e.g. "...").
func NormalizeOrigin(origin string) (string, error) {
	fqdn := dns.Fqdn(origin)
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return "", &EmptyLabel{Origin: origin}
	}
	// IsDomainName accepts the root name "." even though a zone origin
	// is rarely the root; that is a loader/config concern, not a
	// parse error, so it is not rejected here.
	return strings.ToLower(fqdn), nil
}
