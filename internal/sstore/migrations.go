package sstore

import "github.com/tribixbite/waveterm/internal/store"

var migrations = []store.Migration{
	{Version: 1, Name: "init", SQL: `
CREATE TABLE client (
    clientid varchar(36) NOT NULL,
    userid varchar(36) NOT NULL,
    activesessionid varchar(36) NOT NULL,
    userpublickeybytes blob NOT NULL,
    userprivatekeybytes blob NOT NULL,
    winsize json NOT NULL,
    clientopts json NOT NULL,
    feopts json NOT NULL,
    releaseinfo json NOT NULL
);

CREATE TABLE session (
    sessionid varchar(36) PRIMARY KEY,
    name varchar(50) NOT NULL,
    sessionidx int NOT NULL,
    activescreenid varchar(36) NOT NULL,
    sharemode varchar(12) NOT NULL,
    notifynum int NOT NULL,
    archived boolean NOT NULL,
    archivedts bigint NOT NULL
);

CREATE TABLE session_tombstone (
    sessionid varchar(36) PRIMARY KEY,
    name varchar(50) NOT NULL,
    deletedts bigint NOT NULL
);

CREATE TABLE screen (
    screenid varchar(36) PRIMARY KEY,
    sessionid varchar(36) NOT NULL,
    name varchar(50) NOT NULL,
    screenidx int NOT NULL,
    sharemode varchar(12) NOT NULL,
    webshareopts json NOT NULL DEFAULT 'null',
    archived boolean NOT NULL,
    archivedts bigint NOT NULL,
    screenopts json NOT NULL,
    screenviewopts json NOT NULL DEFAULT '{}',
    ownerid varchar(36) NOT NULL,
    selectedline int NOT NULL,
    anchor json NOT NULL,
    focustype varchar(12) NOT NULL,
    curremoteownerid varchar(36) NOT NULL,
    curremoteid varchar(36) NOT NULL,
    curremotename varchar(50) NOT NULL,
    nextlinenum int NOT NULL
);

CREATE TABLE screen_tombstone (
    screenid varchar(36) PRIMARY KEY,
    sessionid varchar(36) NOT NULL,
    name varchar(50) NOT NULL,
    deletedts bigint NOT NULL,
    screenopts json NOT NULL
);

CREATE TABLE line (
    screenid varchar(36) NOT NULL,
    lineid varchar(36) NOT NULL,
    userid varchar(36) NOT NULL,
    ts bigint NOT NULL,
    linenum int NOT NULL,
    linenumtemp boolean NOT NULL,
    linelocal boolean NOT NULL,
    linetype varchar(10) NOT NULL,
    linestate json NOT NULL,
    text text NOT NULL,
    renderer varchar(50) NOT NULL,
    ephemeral boolean NOT NULL,
    contentheight int NOT NULL,
    star boolean NOT NULL,
    archived boolean NOT NULL,
    PRIMARY KEY (screenid, lineid)
);

CREATE TABLE cmd (
    screenid varchar(36) NOT NULL,
    lineid varchar(36) NOT NULL,
    remoteownerid varchar(36) NOT NULL,
    remoteid varchar(36) NOT NULL,
    remotename varchar(50) NOT NULL,
    cmdstr text NOT NULL,
    rawcmdstr text NOT NULL,
    festate json NOT NULL,
    statebasehash varchar(36) NOT NULL,
    statediffhasharr json NOT NULL,
    termopts json NOT NULL,
    origtermopts json NOT NULL,
    status varchar(10) NOT NULL,
    cmdpid int NOT NULL,
    remotepid int NOT NULL,
    donets bigint NOT NULL,
    restartts bigint NOT NULL,
    exitcode int NOT NULL,
    durationms int NOT NULL,
    rtnstate boolean NOT NULL,
    runout json NOT NULL,
    rtnbasehash varchar(36) NOT NULL,
    rtndiffhasharr json NOT NULL,
    PRIMARY KEY (screenid, lineid)
);

CREATE TABLE remote (
    remoteid varchar(36) PRIMARY KEY,
    remotetype varchar(10) NOT NULL,
    remotealias varchar(50) NOT NULL,
    remotecanonicalname varchar(200) NOT NULL,
    remoteuser varchar(50) NOT NULL,
    remotehost varchar(200) NOT NULL,
    connectmode varchar(20) NOT NULL,
    autoinstall boolean NOT NULL,
    sshopts json NOT NULL,
    remoteopts json NOT NULL,
    lastconnectts bigint NOT NULL,
    archived boolean NOT NULL,
    remoteidx int NOT NULL,
    local boolean NOT NULL,
    statevars json NOT NULL DEFAULT '{}',
    sshconfigsrc varchar(50) NOT NULL DEFAULT 'waveterm-manual',
    openaiopts json NOT NULL DEFAULT '{}',
    shellpref varchar(20) NOT NULL DEFAULT 'detect'
);

CREATE TABLE remote_instance (
    riid varchar(36) PRIMARY KEY,
    name varchar(50) NOT NULL,
    sessionid varchar(36) NOT NULL,
    screenid varchar(36) NOT NULL,
    remoteownerid varchar(36) NOT NULL,
    remoteid varchar(36) NOT NULL,
    festate json NOT NULL,
    statebasehash varchar(36) NOT NULL,
    statediffhasharr json NOT NULL,
    shelltype varchar(20) NOT NULL DEFAULT ''
);

CREATE TABLE state_base (
    basehash varchar(36) PRIMARY KEY,
    ts bigint NOT NULL,
    version varchar(200) NOT NULL,
    data blob NOT NULL
);

CREATE TABLE state_diff (
    diffhash varchar(36) PRIMARY KEY,
    ts bigint NOT NULL,
    basehash varchar(36) NOT NULL,
    diffhasharr json NOT NULL,
    data blob NOT NULL
);

CREATE TABLE history (
    historyid varchar(36) PRIMARY KEY,
    ts bigint NOT NULL,
    userid varchar(36) NOT NULL,
    sessionid varchar(36) NOT NULL,
    screenid varchar(36) NOT NULL,
    lineid varchar(36) NOT NULL,
    haderror boolean NOT NULL,
    cmdstr text NOT NULL,
    remoteownerid varchar(36) NOT NULL,
    remoteid varchar(36) NOT NULL,
    remotename varchar(50) NOT NULL,
    ismetacmd boolean NOT NULL,
    linenum int NOT NULL DEFAULT 0,
    exitcode int NULL DEFAULT NULL,
    durationms int NULL DEFAULT NULL,
    festate json NOT NULL DEFAULT '{}',
    tags json NOT NULL DEFAULT '{}',
    status varchar(10) NOT NULL DEFAULT 'done'
);

CREATE TABLE screenupdate (
    updateid integer PRIMARY KEY AUTOINCREMENT,
    screenid varchar(36) NOT NULL,
    lineid varchar(36) NOT NULL,
    updatetype varchar(50) NOT NULL,
    updatets bigint NOT NULL
);
CREATE INDEX idx_screenupdate_ids ON screenupdate (screenid, lineid);

CREATE TABLE webptypos (
    screenid varchar(36) NOT NULL,
    lineid varchar(36) NOT NULL,
    ptypos bigint NOT NULL,
    PRIMARY KEY (screenid, lineid)
);
`},
}
