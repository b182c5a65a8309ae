package markethours

import "time"

// NSE equity segment trading holidays, keyed by IST date.
var holidays = map[string]string{
	// 2025
	"2025-02-26": "Mahashivratri",
	"2025-03-14": "Holi",
	"2025-03-31": "Id-Ul-Fitr",
	"2025-04-10": "Shri Mahavir Jayanti",
	"2025-04-14": "Dr. Baba Saheb Ambedkar Jayanti",
	"2025-04-18": "Good Friday",
	"2025-05-01": "Maharashtra Day",
	"2025-08-15": "Independence Day",
	"2025-08-27": "Ganesh Chaturthi",
	"2025-10-02": "Mahatma Gandhi Jayanti / Dussehra",
	"2025-10-21": "Diwali Laxmi Pujan",
	"2025-10-22": "Diwali Balipratipada",
	"2025-11-05": "Prakash Gurpurb Sri Guru Nanak Dev",
	"2025-12-25": "Christmas",

	// 2026
	"2026-01-26": "Republic Day",
	"2026-02-17": "Mahashivratri",
	"2026-03-14": "Holi",
	"2026-03-31": "Id-Ul-Fitr",
	"2026-04-02": "Ram Navami",
	"2026-04-06": "Shri Mahavir Jayanti",
	"2026-04-10": "Good Friday",
	"2026-04-14": "Dr. Baba Saheb Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-06-07": "Bakri Id",
	"2026-07-06": "Muharram",
	"2026-08-15": "Independence Day",
	"2026-08-16": "Janmashtami",
	"2026-09-05": "Id-E-Milad",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-11-05": "Diwali Laxmi Pujan",
	"2026-11-06": "Diwali Balipratipada",
	"2026-11-19": "Prakash Gurpurb Sri Guru Nanak Dev",
	"2026-12-25": "Christmas",
}

// Holiday reports whether the IST date of t is an NSE holiday and its name.
func Holiday(t time.Time) (string, bool) {
	name, ok := holidays[t.In(IST).Format(time.DateOnly)]
	return name, ok
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := Holiday(t)
	return ok
}
