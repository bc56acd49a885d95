package password

// defaultWeakWords は組み込みの弱パスワードリスト。
// 公開されている頻出パスワード集の上位から抜粋したもので、
// BREACH_LIST_PATHで外部コーパスを追加読み込みできる。
var defaultWeakWords = []string{
	"password",
	"password1",
	"password123",
	"passw0rd",
	"p@ssword",
	"p@ssw0rd",
	"12345678",
	"123456789",
	"1234567890",
	"qwerty123",
	"qwertyuiop",
	"11111111",
	"00000000",
	"iloveyou",
	"sunshine",
	"football",
	"baseball",
	"dragon123",
	"monkey123",
	"letmein1",
	"welcome1",
	"admin123",
	"root1234",
	"abc12345",
	"aa123456",
	"sakura123",
	"yamada123",
}
