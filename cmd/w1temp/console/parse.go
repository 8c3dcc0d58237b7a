package console

import (
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/juju/errors"
	"github.com/temoto/w1temp/hardware/ds18"
	"github.com/temoto/w1temp/helpers"
)

const usage = `syntax: commands separated by whitespace
(main)
- read       poll next sensor once
- read ROM   measure one sensor by 16 hex digit address
- scan       search bus, list addresses
- reset      restart bus enumeration from first device
- temp       show last reading
- history N  show N newest records
- stat       show cloud delivery counters
- sN         pause N milliseconds

(meta)
- log=yes|no  debug log on|off
- loop=N      repeat N times all commands on this line
`

type actionKind uint8

const (
	actionHelp actionKind = iota
	actionRead
	actionReadAddress
	actionScan
	actionReset
	actionTemp
	actionHistory
	actionStat
	actionSleep
	actionLog
)

type action struct {
	kind actionKind
	n    int
	flag bool
	addr ds18.Address
}

// parseLine returns actions and repeat count (at least 1).
func parseLine(line string) ([]action, int, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return nil, 0, errors.Annotatef(err, "line=%s", line)
	}
	as := make([]action, 0, len(words))
	loopn := 0
	errs := make([]error, 0)
	for i := 0; i < len(words); i++ {
		word := words[i]
		switch {
		case word == "help" || word == "/help":
			as = append(as, action{kind: actionHelp})
		case word == "read":
			a := action{kind: actionRead}
			if i+1 < len(words) && len(words[i+1]) == 2*len(a.addr) {
				addr, err := ds18.ParseAddress(words[i+1])
				if err != nil {
					errs = append(errs, err)
				}
				a = action{kind: actionReadAddress, addr: addr}
				i++
			}
			as = append(as, a)
		case word == "scan":
			as = append(as, action{kind: actionScan})
		case word == "reset":
			as = append(as, action{kind: actionReset})
		case word == "temp":
			as = append(as, action{kind: actionTemp})
		case word == "stat":
			as = append(as, action{kind: actionStat})
		case word == "history":
			a := action{kind: actionHistory, n: 10}
			if i+1 < len(words) {
				if n, err := strconv.Atoi(words[i+1]); err == nil {
					if n <= 0 {
						errs = append(errs, errors.NotValidf("history count=%d", n))
					}
					a.n = n
					i++
				}
			}
			as = append(as, a)
		case word == "log=yes" || word == "log=no":
			as = append(as, action{kind: actionLog, flag: word == "log=yes"})
		case strings.HasPrefix(word, "loop="):
			if loopn != 0 {
				errs = append(errs, errors.Errorf("multiple loop commands, expected at most one"))
				continue
			}
			n, err := strconv.ParseUint(word[5:], 10, 31)
			if err != nil || n == 0 {
				errs = append(errs, errors.NotValidf("word=%s", word))
				continue
			}
			loopn = int(n)
		case len(word) > 1 && word[0] == 's':
			n, err := strconv.ParseUint(word[1:], 10, 31)
			if err != nil {
				errs = append(errs, errors.Errorf("unknown command=%s", word))
				continue
			}
			as = append(as, action{kind: actionSleep, n: int(n)})
		default:
			errs = append(errs, errors.Errorf("unknown command=%s", word))
		}
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, 0, err
	}
	if loopn == 0 {
		loopn = 1
	}
	return as, loopn, nil
}
