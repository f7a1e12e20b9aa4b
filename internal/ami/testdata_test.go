package ami_test

// answeredCall is a trimmed capture of extension 1986 calling 21, answered
// and hung up normally.
const answeredCall = "Asterisk Call Manager/7.0.3\r\n" +
	"Event: Newchannel\r\n" +
	"Channel: PJSIP/1986-00000028\r\n" +
	"ChannelStateDesc: Down\r\n" +
	"CallerIDNum: 1986\r\n" +
	"CallerIDName: Martin\r\n" +
	"Context: from-internal\r\n" +
	"Exten: 21\r\n" +
	"Uniqueid: 1770888509.40\r\n" +
	"Linkedid: 1770888509.40\r\n" +
	"\r\n" +
	"Event: DialBegin\r\n" +
	"DestCallerIDName: Kitchen\r\n" +
	"Uniqueid: 1770888509.40\r\n" +
	"Linkedid: 1770888509.40\r\n" +
	"\r\n" +
	"Event: Newstate\r\n" +
	"ChannelStateDesc: Ringing\r\n" +
	"Uniqueid: 1770888509.41\r\n" +
	"Linkedid: 1770888509.40\r\n" +
	"\r\n" +
	"Event: Newstate\r\n" +
	"ChannelStateDesc: Up\r\n" +
	"Uniqueid: 1770888509.41\r\n" +
	"Linkedid: 1770888509.40\r\n" +
	"\r\n" +
	"Event: Hangup\r\n" +
	"Cause: 16\r\n" +
	"Uniqueid: 1770888509.40\r\n" +
	"Linkedid: 1770888509.40\r\n" +
	"\r\n"
