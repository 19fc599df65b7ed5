package password

// commonPasswords is matched against the lowercased candidate.
var commonPasswords = toSet([]string{
	"password", "password1", "password12", "password123", "password1234",
	"passw0rd", "p@ssw0rd", "p@ssword", "p@ssw0rd123", "p@ssw0rd123!",
	"123456", "1234567", "12345678", "123456789", "1234567890",
	"111111", "000000", "123123", "654321", "666666", "121212",
	"qwerty", "qwerty123", "qwertyuiop", "1q2w3e4r", "1q2w3e4r5t",
	"abc123", "abcd1234", "letmein", "letmein123", "welcome",
	"welcome1", "welcome123", "admin", "admin123", "administrator",
	"root", "toor", "changeme", "changeme123", "default",
	"iloveyou", "monkey", "dragon", "football", "baseball",
	"sunshine", "princess", "master", "shadow", "superman",
	"batman", "trustno1", "starwars", "login", "hello123",
	"secret", "secret123", "whatever", "freedom", "michael",
	"jennifer", "charlie", "summer2024", "winter2024", "spring2025",
	"autumn2025", "company123", "test1234", "testtest", "guest",
	"correcthorsebatterystaple", "ilovesecurity", "security123",
})

// keyboardPatterns are adjacent-key runs on common layouts.
var keyboardPatterns = []string{
	"qwerty", "qwertz", "azerty", "asdfgh", "zxcvbn", "yxcvbn",
	"qazwsx", "1qaz2wsx", "1q2w3e", "poiuyt", "lkjhgf", "mnbvcx",
	"asdf", "qwer", "zxcv", "wasd",
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out
}
